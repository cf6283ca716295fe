// Package web3 holds the EVM network table used to price and settle x402
// payments: chain ids, USDC contract addresses, native token decimals and
// optional RPC endpoints for on-chain confirmation. The built-in table can be
// overridden from a YAML file.
package web3
