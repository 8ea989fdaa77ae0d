// Package config supplies client settings from the environment.
package config

type Config interface {
	EnvConfig
	OAuthConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAccountsURL() string
	GetDataFolder() string
	GetEnv() string
}

type OAuthConfig interface {
	GetClientID() string
	GetAuthURL() string
	GetRedirectURI() string
}

type mainConfig struct {
	EnvVars
	OAuth
}

func New() Config {
	return mainConfig{}
}
