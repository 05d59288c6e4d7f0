package interfaces

// Listener 启动/停止完成回调
type Listener interface {
	OnSuccess(args ...any)
	OnFailure(err error)
}

// ListenerFuncs 以函数组装 Listener，nil 字段忽略
type ListenerFuncs struct {
	Success func(args ...any)
	Failure func(err error)
}

// OnSuccess 实现 Listener
func (l ListenerFuncs) OnSuccess(args ...any) {
	if l.Success != nil {
		l.Success(args...)
	}
}

// OnFailure 实现 Listener
func (l ListenerFuncs) OnFailure(err error) {
	if l.Failure != nil {
		l.Failure(err)
	}
}

// NotifySuccess 在 l 非 nil 时回调成功
func NotifySuccess(l Listener, args ...any) {
	if l != nil {
		l.OnSuccess(args...)
	}
}

// NotifyFailure 在 l 非 nil 时回调失败
func NotifyFailure(l Listener, err error) {
	if l != nil {
		l.OnFailure(err)
	}
}
