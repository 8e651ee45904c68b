package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/utils"
)

// Connect opens the database, creating it first when missing, and runs migrations.
func Connect(dsn, logLevel string, log *zap.Logger) (*gorm.DB, error) {
	if err := ensureDatabase(dsn); err != nil {
		return nil, fmt.Errorf("ensure database: %w", err)
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := conn.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		log.Warn("failed to ensure uuid-ossp extension", zap.Error(err))
	}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("database ready")
	return conn, nil
}

// Migrate creates or updates every table.
func Migrate(conn *gorm.DB) error {
	migrations := []interface{}{
		&models.User{},
		&models.Session{},
		&models.PasswordResetToken{},
		&models.UserAddress{},
		&models.Service{},
		&models.PricingOption{},
		&models.FormulaVariable{},
		&models.Package{},
		&models.Coupon{},
		&models.Ally{},
		&models.Reservation{},
		&models.BusinessSettings{},
		&models.NotificationLog{},
	}

	for _, migration := range migrations {
		if err := conn.AutoMigrate(migration); err != nil {
			return err
		}
	}

	return nil
}

// SeedAdmin creates the bootstrap admin account when phone and password
// are configured and no user with that phone exists yet.
func SeedAdmin(conn *gorm.DB, phone, password string, log *zap.Logger) error {
	if phone == "" || password == "" {
		return nil
	}

	var existing models.User
	err := conn.Where("phone = ?", phone).First(&existing).Error
	if err == nil {
		if existing.Role != models.RoleAdmin {
			log.Warn("ADMIN_PHONE belongs to a non-admin user", zap.String("phone", phone))
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		FirstName:    "Admin",
		Phone:        phone,
		Role:         models.RoleAdmin,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := conn.Create(&admin).Error; err != nil {
		return err
	}

	log.Info("admin account seeded", zap.String("phone", phone))
	return nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func ensureDatabase(dsn string) error {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return err
	}

	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return nil
	}

	parsed.Path = "/postgres"
	masterDSN := parsed.String()

	sqlDB, err := sql.Open("postgres", masterDSN)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return err
	}

	var exists bool
	if err := sqlDB.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists); err != nil {
		return err
	}

	if exists {
		return nil
	}

	_, err = sqlDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName))
	return err
}
