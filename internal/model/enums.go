package model

type TxStatus string

const (
	TxStatusPending TxStatus = "pending"
	TxStatusSent    TxStatus = "sent"
	TxStatusFailed  TxStatus = "failed"
)
