// Package dashboard 是多智能体仪表盘的终端客户端：轮询后端状态与创始人资料，
// 并将用户消息发送给当前选中的智能体。
package dashboard
