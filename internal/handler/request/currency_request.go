package request

import "kelvin-core/pkg/currency"

type DeriveRequest struct {
	Pubkey string `json:"pubkey" binding:"required,pubkey"`
}

type ConvertRequest struct {
	Amount string `json:"amount" binding:"required"`
	To     string `json:"to" binding:"required,oneof=base normal"`
}

// Command is a device command in transit; Payload is hex.
type Command struct {
	ID      uint16 `json:"id"`
	Payload string `json:"payload" binding:"hexadecimal"`
}

type FinalizeRequest struct {
	Request  currency.SignTxRequest `json:"request" binding:"required"`
	Command  Command                `json:"command" binding:"required"`
	Response string                 `json:"response" binding:"required,hexadecimal"`
}

type BroadcastRequest struct {
	Tx string `json:"tx" binding:"required"`
}

type SignHashRequest struct {
	Account uint32 `json:"account"`
	Digest  string `json:"digest" binding:"required,len=64,hexadecimal"`
}

type SignHashResponse struct {
	Response string `json:"response" binding:"required,hexadecimal"`
}
