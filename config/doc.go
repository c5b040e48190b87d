// Package config 提供 finrag 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量键名为 FINRAG_<SECTION>_<FIELD>，支持 time.Duration
// 与逗号分隔的字符串切片。
package config
