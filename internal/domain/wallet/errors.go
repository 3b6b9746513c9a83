package wallet

import "errors"

var (
	// ErrWalletNotFound ウォレットが見つからないエラー
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletAlreadyExists 同一所有者のウォレットが既に存在するエラー
	ErrWalletAlreadyExists = errors.New("wallet already exists")
	// ErrInvalidOwner 所有者参照が無効
	ErrInvalidOwner = errors.New("invalid wallet owner")
)
