package domain

import "strings"

type DepositType string

const (
	DepositTypeOil             DepositType = "oil"
	DepositTypeEngineOil       DepositType = "engine_oil"
	DepositTypeRental          DepositType = "rental"
	DepositTypeCoffeeShop      DepositType = "coffee_shop"
	DepositTypeConvenientStore DepositType = "convenient_store"
	DepositTypeDepositCash     DepositType = "deposit_cash"
	DepositTypeExchangeCash    DepositType = "exchange_cash"
	DepositTypeWithdrawal      DepositType = "withdrawal"
)

var depositTypes = map[DepositType]struct{}{
	DepositTypeOil:             {},
	DepositTypeEngineOil:       {},
	DepositTypeRental:          {},
	DepositTypeCoffeeShop:      {},
	DepositTypeConvenientStore: {},
	DepositTypeDepositCash:     {},
	DepositTypeExchangeCash:    {},
	DepositTypeWithdrawal:      {},
}

func ParseDepositType(value string) (DepositType, bool) {
	t := DepositType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := depositTypes[t]
	return t, ok
}

// AlwaysPosRelated reports the types that are forwarded to the POS
// regardless of product configuration.
func (t DepositType) AlwaysPosRelated() bool {
	return t == DepositTypeOil || t == DepositTypeEngineOil
}

type PosStatus string

const (
	PosStatusNA     PosStatus = "na"
	PosStatusQueued PosStatus = "queued"
	PosStatusFailed PosStatus = "failed"
	PosStatusOK     PosStatus = "ok"
)
