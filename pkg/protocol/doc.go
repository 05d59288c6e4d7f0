// Package protocol 定义网关与下游推送节点之间的包格式
//
// # 包结构
//
//	+--------+-----+-------+-------+-----------+-----+----------+
//	| length | cmd |  cc   | flags | sessionId | lrc |   body   |
//	|   4    |  1  |   2   |   1   |     4     |  1  |  length  |
//	+--------+-----+-------+-------+-----------+-----+----------+
//
// 头部固定 13 字节，大端序。cc 为包体逐字节累加的校验码，lrc 为头部前 12 字节的异或值。
// 心跳包是单字节 0xDF，不带头部。
//
// FlagCompress 置位时包体为 zlib 压缩数据，Decoder 会在交给上层前解压，
// 因此流水线上看到的都是解码后的逻辑包。
package protocol
