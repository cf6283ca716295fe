// Package x402 实现按次付费的 webhook 触发器：未携带支付凭证的请求收到 402 挑战，
// 携带凭证的请求交由结算服务校验与结算，成功后将请求数据交给下游输出。
package x402
