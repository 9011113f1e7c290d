package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/altgrid/sweeper/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// JOURNAL - Trade persistence layer
// ═══════════════════════════════════════════════════════════════════════════════
//
// Postgres when DATABASE_URL is set, local sqlite file otherwise.
// Journal writes are best-effort: persistence failures are logged and
// never block the trading path.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TradeLog is one settlement attempt.
type TradeLog struct {
	ID          string `gorm:"primaryKey"`
	ChainID     int64  `gorm:"index"`
	Lane        string
	SrcSymbol   string
	DestSymbol  string
	AmountBase  string
	NotionalUsd decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnlUsd      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Success     bool
	TxHash      string
	ErrorCode   string
	CreatedAt   time.Time `gorm:"index"`
}

// DailyStat aggregates per-day results.
type DailyStat struct {
	Date   string `gorm:"primaryKey"`
	Trades int
	Wins   int
	Losses int
	PnlUsd decimal.Decimal `gorm:"type:decimal(20,6)"`
}

type Journal struct {
	db *gorm.DB
}

// Open connects to postgres when dsn is non-empty, else to a sqlite file
// at path (parent directory created as needed).
func Open(dsn, path string) (*Journal, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var db *gorm.DB
	var err error
	if dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, mkErr
			}
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&TradeLog{}, &DailyStat{}); err != nil {
		return nil, err
	}

	log.Info().Bool("postgres", dsn != "").Msg("💾 Journal ready")
	return &Journal{db: db}, nil
}

// LogSettlement records one settlement attempt.
func (j *Journal) LogSettlement(trade types.QueuedTrade, success bool, txHash, errorCode string, pnlUsd decimal.Decimal) {
	if j == nil {
		return
	}
	row := TradeLog{
		ID:          uuid.NewString(),
		ChainID:     trade.ChainID,
		Lane:        string(trade.Lane),
		SrcSymbol:   trade.SrcSymbol,
		DestSymbol:  trade.DestSymbol,
		AmountBase:  trade.AmountBase.String(),
		NotionalUsd: trade.NotionalUsd,
		PnlUsd:      pnlUsd,
		Success:     success,
		TxHash:      txHash,
		ErrorCode:   errorCode,
		CreatedAt:   time.Now(),
	}
	if err := j.db.Create(&row).Error; err != nil {
		log.Warn().Err(err).Msg("Journal write failed")
		return
	}
	j.bumpDaily(success, pnlUsd)
}

func (j *Journal) bumpDaily(success bool, pnlUsd decimal.Decimal) {
	date := time.Now().Format("2006-01-02")
	var stat DailyStat
	err := j.db.Where("date = ?", date).First(&stat).Error
	if err == gorm.ErrRecordNotFound {
		stat = DailyStat{Date: date, PnlUsd: decimal.Zero}
	} else if err != nil {
		log.Warn().Err(err).Msg("Daily stat read failed")
		return
	}
	stat.Trades++
	if success {
		stat.Wins++
	} else {
		stat.Losses++
	}
	stat.PnlUsd = stat.PnlUsd.Add(pnlUsd)
	if err := j.db.Save(&stat).Error; err != nil {
		log.Warn().Err(err).Msg("Daily stat write failed")
	}
}

// RecentTrades returns the latest settlement attempts, newest first.
func (j *Journal) RecentTrades(limit int) ([]TradeLog, error) {
	if j == nil {
		return nil, nil
	}
	var rows []TradeLog
	err := j.db.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
