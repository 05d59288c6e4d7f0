// Package metrics 导出网关的 Prometheus 指标
//
// 所有方法对 nil 接收者安全：未注入 Registerer 时指标整体关闭，
// 调用方无需判空。
//
// 指标列表（前缀 mpush_gateway_）：
//
//	connections                 当前连接数
//	accepted_total{transport}   已接受连接数
//	accept_errors_total         accept 失败次数
//	writability_changes_total{state}  可写状态翻转次数
//	replies_dropped_total       因不可写丢弃的响应数
//	dispatch_total{cmd,result}  分发结果
//	shaping_bytes_total{direction}    整形观测到的字节数
//	shaping_rate_bytes{direction}     最近一个周期的速率
//	shaping_delay_seconds{direction}  整形施加的等待时长
//	shaping_channels            整形追踪的连接数
//	lifecycle_phase             当前生命周期阶段
package metrics
