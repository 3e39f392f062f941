package params

import (
	"math/big"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/custodex/pkg/crypto"
)

type Exchange struct {
	// Custody is the account that holds every deposited asset.
	Custody    string `env:"CUSTODY" envDefault:"0x000000000000000000000000000000000000c057"`
	FeeAccount string `env:"FEE_ACCOUNT" envDefault:"0x0000000000000000000000000000000000000fee"`
	FeePercent uint64 `env:"FEE_PERCENT" envDefault:"10"`
}

type Node struct {
	DataDir string `env:"DATA_DIR" envDefault:"data"`
	APIAddr string `env:"API_ADDR" envDefault:":8080"`
	// LogFile and EventLogFile are optional; both rotate.
	LogFile      string `env:"LOG_FILE"`
	EventLogFile string `env:"EVENT_LOG_FILE"`
	GenesisFile  string `env:"GENESIS_FILE"`
	Verbose      bool   `env:"VERBOSE" envDefault:"false"`
}

type Kafka struct {
	// Empty disables the Kafka sink.
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"custodex.events"`
}

// Signing is the EIP-712 domain actions are signed under. The verifying
// contract is always the custody account.
type Signing struct {
	Name    string `env:"NAME" envDefault:"Custodex"`
	Version string `env:"VERSION" envDefault:"1"`
	ChainID int64  `env:"CHAIN_ID" envDefault:"1337"`
}

type API struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

type Config struct {
	Exchange Exchange `envPrefix:"EXCHANGE_"`
	Node     Node     `envPrefix:"NODE_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`
	Signing  Signing  `envPrefix:"SIGNING_"`
	API      API      `envPrefix:"API_"`
}

// Default is the configuration with no environment set.
func Default() Config {
	var cfg Config
	// defaults come from struct tags only; an empty environment cannot fail
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !common.IsHexAddress(c.Exchange.Custody) {
		return errors.Newf("EXCHANGE_CUSTODY: invalid address %q", c.Exchange.Custody)
	}
	if !common.IsHexAddress(c.Exchange.FeeAccount) {
		return errors.Newf("EXCHANGE_FEE_ACCOUNT: invalid address %q", c.Exchange.FeeAccount)
	}
	if c.Exchange.FeePercent > 100 {
		return errors.Newf("EXCHANGE_FEE_PERCENT: %d is above 100", c.Exchange.FeePercent)
	}
	if c.Signing.ChainID <= 0 {
		return errors.Newf("SIGNING_CHAIN_ID: must be positive, got %d", c.Signing.ChainID)
	}
	if c.Node.DataDir == "" {
		return errors.New("NODE_DATA_DIR: must be set")
	}
	return nil
}

func (c Config) Custody() common.Address { return common.HexToAddress(c.Exchange.Custody) }

func (c Config) FeeAccount() common.Address { return common.HexToAddress(c.Exchange.FeeAccount) }

// Domain is the EIP-712 domain for signed actions.
func (c Config) Domain() crypto.EIP712Domain {
	return crypto.EIP712Domain{
		Name:              c.Signing.Name,
		Version:           c.Signing.Version,
		ChainID:           big.NewInt(c.Signing.ChainID),
		VerifyingContract: c.Custody(),
	}
}
