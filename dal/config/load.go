package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "DAL"

// Load lê .env/.env.local (se existirem), o arquivo path (opcional) e as
// variáveis DAL_* (ex: DAL_POOL_MAX_ACTIVE), e passa tudo por Parse.
func Load(path string) (Config, error) {
	LoadDotEnv()
	return LoadViper(NewViper(), path)
}

// LoadDotEnv carrega .env e .env.local sem sobrescrever o ambiente.
func LoadDotEnv() {
	for _, f := range []string{".env", ".env.local"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// LoadViper é Load sobre um viper já preparado (flags ligadas, por exemplo).
func LoadViper(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := Parse(v.AllSettings())
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// NewViper devolve um viper com env DAL_* ligado a todas as chaves conhecidas.
// Usado também pelo dalctl para ligar flags.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range Keys() {
		// BindEnv só falha sem argumentos.
		_ = v.BindEnv(k)
	}
	return v
}

// IsNotFound diz se o erro de Load veio de arquivo inexistente.
func IsNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}
