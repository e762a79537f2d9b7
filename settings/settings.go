// Package settings aggregates process configuration. Values come from
// gocore (settings.conf plus environment overrides) and are resolved once,
// at startup, into an explicit Settings value passed to constructors.
package settings

import (
	"net/url"
	"time"
)

type Settings struct {
	ClientName string
	DataFolder string
	LogLevel   string

	CoinStore CoinStoreSettings
	Relay     RelaySettings
	Lifecycle LifecycleSettings
}

type CoinStoreSettings struct {
	StoreURL             *url.URL
	DBTimeout            time.Duration
	PostgresMaxIdleConns int
	PostgresMaxOpenConns int
}

type RelaySettings struct {
	URLs           []string
	OrderCacheTTL  time.Duration
	DefaultTimeout time.Duration
}

type LifecycleSettings struct {
	// FeeAmount is the default miner fee in satoshis for constructed transactions.
	FeeAmount uint64
	// CollateralAssetID is the chain's native asset, hex encoded little-endian.
	CollateralAssetID string
}

func NewSettings() *Settings {
	return &Settings{
		ClientName: getString("clientName", "simplicity-dex"),
		DataFolder: getString("dataFolder", "data"),
		LogLevel:   getString("logLevel", "INFO"),
		CoinStore: CoinStoreSettings{
			StoreURL:             getURL("coinstore", "sqlite:///coinstore"),
			DBTimeout:            time.Duration(getInt("coinstore_dbTimeoutMillis", 5000)) * time.Millisecond,
			PostgresMaxIdleConns: getInt("coinstore_postgresMaxIdleConns", 10),
			PostgresMaxOpenConns: getInt("coinstore_postgresMaxOpenConns", 80),
		},
		Relay: RelaySettings{
			URLs:           getMultiString("relay_urls", ""),
			OrderCacheTTL:  time.Duration(getInt("relay_orderCacheTTLSeconds", 3600)) * time.Second,
			DefaultTimeout: time.Duration(getInt("relay_timeoutSeconds", 30)) * time.Second,
		},
		Lifecycle: LifecycleSettings{
			FeeAmount:         uint64(getInt("lifecycle_feeAmount", 1500)),
			CollateralAssetID: getString("lifecycle_collateralAssetId", "144c654344aa716d6f3abcc1ca90e5641e4e2a7f633bc09fe3baf64585819a49"),
		},
	}
}
