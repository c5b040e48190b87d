// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 finrag 提供 TracerProvider 和 MeterProvider 配置。
// 遥测禁用时保持 noop 实现，不连接任何外部服务。
package telemetry
