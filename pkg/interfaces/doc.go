// Package interfaces 定义 mpush 网关核心与外部协作者之间的窄接口
//
// 网关核心只依赖这里的接口：
//   - transport.go   - 传输类型、通道工厂、选择器提供者、接收器
//   - connection.go  - 连接与连接注册表
//   - dispatcher.go  - 命令分发与消息处理器
//   - listener.go    - 启停回调
//
// 具体实现位于 internal/core 下对应目录，依赖方向为 internal → pkg，禁止反向依赖。
package interfaces
