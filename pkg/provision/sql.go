package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	// Warehouse drivers
	_ "github.com/go-sql-driver/mysql"          // MySQL
	_ "github.com/lib/pq"                       // PostgreSQL
	_ "github.com/snowflakedb/gosnowflake"      // Snowflake
	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/internal/logging"
	"github.com/systmms/keywarden/pkg/keypair"
)

// ConnectionConfig describes the warehouse connection for SQL-based
// provisioning.
type ConnectionConfig struct {
	// Type selects the driver: snowflake, postgres/postgresql,
	// mysql/mariadb.
	Type string `yaml:"type"`

	// Account is the Snowflake account identifier. Ignored by other
	// warehouse types.
	Account string `yaml:"account,omitempty"`

	Host     string `yaml:"host,omitempty"`
	Port     string `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`

	// User and Role authenticate the operator running keywarden, not
	// the accounts being provisioned.
	User string `yaml:"user"`
	Role string `yaml:"role,omitempty"`

	// Password is resolved from the OS keyring at runtime and never
	// lives in the config file.
	Password string `yaml:"-"`

	// TimeoutMS bounds each provisioning statement. Zero means the
	// 30 second default.
	TimeoutMS int `yaml:"timeout_ms,omitempty"`
}

// SQLProvisioner implements Provisioner over database/sql. Key
// installation uses the warehouse DDL dialect: CREATE USER with an
// RSA public key plus a role grant, and ALTER USER to swap the key on
// rotation.
type SQLProvisioner struct {
	config ConnectionConfig
	logger *logging.Logger

	// db is injected by tests; when nil a connection is opened per
	// operation from the config.
	db *sql.DB

	driverMap map[string]string
}

// NewSQLProvisioner creates a provisioner that connects per operation
// using the given config.
func NewSQLProvisioner(config ConnectionConfig, logger *logging.Logger) *SQLProvisioner {
	return &SQLProvisioner{
		config: config,
		logger: logger,
		driverMap: map[string]string{
			"snowflake":  "snowflake",
			"postgresql": "postgres",
			"postgres":   "postgres",
			"mysql":      "mysql",
			"mariadb":    "mysql",
		},
	}
}

// NewSQLProvisionerWithDB creates a provisioner bound to an existing
// database handle. Used by tests.
func NewSQLProvisionerWithDB(db *sql.DB, config ConnectionConfig, logger *logging.Logger) *SQLProvisioner {
	p := NewSQLProvisioner(config, logger)
	p.db = db
	return p
}

// identifierPattern matches unquoted warehouse identifiers. Usernames
// and roles are interpolated into DDL (placeholders are not accepted
// there), so anything outside this set is rejected outright.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func validIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

func (p *SQLProvisioner) RegisterPublicKey(ctx context.Context, username, publicKeyPEM, role string) error {
	if !validIdentifier(username) {
		return kwerrors.New(kwerrors.KindInvalidParameter, username, "invalid username for warehouse DDL")
	}
	if role != "" && !validIdentifier(role) {
		return kwerrors.New(kwerrors.KindInvalidParameter, username, "invalid role %q for warehouse DDL", role)
	}

	bareKey := keypair.StripArmor(publicKeyPEM)
	if bareKey == "" {
		return kwerrors.New(kwerrors.KindInvalidParameter, username, "empty public key")
	}

	statements := []string{
		fmt.Sprintf("CREATE USER %s RSA_PUBLIC_KEY = '%s' DEFAULT_ROLE = %s MUST_CHANGE_PASSWORD = FALSE",
			username, bareKey, defaultRole(role)),
	}
	if role != "" {
		statements = append(statements, fmt.Sprintf("GRANT ROLE %s TO USER %s", role, username))
	}

	if err := p.execute(ctx, statements); err != nil {
		return kwerrors.Wrap(kwerrors.KindProvisioningFailed, username, p.redactError(err), "failed to register public key")
	}
	p.logger.Debug("Registered public key for %s (fingerprint %s)", username, fingerprintOrUnknown(publicKeyPEM))
	return nil
}

func (p *SQLProvisioner) UpdatePublicKey(ctx context.Context, username, publicKeyPEM string) error {
	if !validIdentifier(username) {
		return kwerrors.New(kwerrors.KindInvalidParameter, username, "invalid username for warehouse DDL")
	}

	bareKey := keypair.StripArmor(publicKeyPEM)
	if bareKey == "" {
		return kwerrors.New(kwerrors.KindInvalidParameter, username, "empty public key")
	}

	statements := []string{
		fmt.Sprintf("ALTER USER %s SET RSA_PUBLIC_KEY = '%s'", username, bareKey),
	}

	if err := p.execute(ctx, statements); err != nil {
		return kwerrors.Wrap(kwerrors.KindProvisioningFailed, username, p.redactError(err), "failed to update public key")
	}
	p.logger.Debug("Updated public key for %s (fingerprint %s)", username, fingerprintOrUnknown(publicKeyPEM))
	return nil
}

func (p *SQLProvisioner) execute(ctx context.Context, statements []string) error {
	db, err := p.open()
	if err != nil {
		return err
	}
	if p.db == nil {
		defer func() { _ = db.Close() }()
	}

	timeout := 30 * time.Second
	if p.config.TimeoutMS > 0 {
		timeout = time.Duration(p.config.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *SQLProvisioner) open() (*sql.DB, error) {
	if p.db != nil {
		return p.db, nil
	}

	driver, ok := p.driverMap[strings.ToLower(p.config.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported warehouse type: %s", p.config.Type)
	}

	dsn, err := p.buildDSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}
	return db, nil
}

func (p *SQLProvisioner) buildDSN() (string, error) {
	switch strings.ToLower(p.config.Type) {
	case "snowflake":
		// gosnowflake DSN: user:password@account/database?role=...
		dsn := fmt.Sprintf("%s:%s@%s/%s", p.config.User, p.config.Password, p.config.Account, p.config.Database)
		if p.config.Role != "" {
			dsn += "?role=" + p.config.Role
		}
		return dsn, nil

	case "postgresql", "postgres":
		parts := []string{
			fmt.Sprintf("host=%s", p.config.Host),
			fmt.Sprintf("dbname=%s", p.config.Database),
			fmt.Sprintf("user=%s", p.config.User),
			"sslmode=require",
		}
		if p.config.Port != "" {
			parts = append(parts, fmt.Sprintf("port=%s", p.config.Port))
		}
		if p.config.Password != "" {
			parts = append(parts, fmt.Sprintf("password=%s", p.config.Password))
		}
		return strings.Join(parts, " "), nil

	case "mysql", "mariadb":
		port := p.config.Port
		if port == "" {
			port = "3306"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
			p.config.User, p.config.Password, p.config.Host, port, p.config.Database), nil

	default:
		return "", fmt.Errorf("unsupported warehouse type: %s", p.config.Type)
	}
}

// redactError rewrites a driver error before it leaves the provisioner.
// Driver errors can quote the failed statement or the DSN, either of
// which carries key material or the operator password.
func (p *SQLProvisioner) redactError(err error) error {
	msg := logging.RedactPEM(err.Error())
	msg = logging.Redact(msg, []string{p.config.Password})
	return errors.New(msg)
}

func defaultRole(role string) string {
	if role == "" {
		return "PUBLIC"
	}
	return role
}

func fingerprintOrUnknown(publicKeyPEM string) string {
	fp, err := keypair.Fingerprint(publicKeyPEM)
	if err != nil {
		return "unknown"
	}
	return fp
}
