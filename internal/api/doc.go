// Package api 暴露 zyndd 的 HTTP 接口：付费 webhook 触发器、发布任务管理、
// 发布记录查询以及健康检查与指标。
package api
