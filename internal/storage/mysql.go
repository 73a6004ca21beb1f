package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"comicforge/internal/config"
	"comicforge/internal/game"
)

// StoryRecord is one finished story, kept for corpus analysis and replay.
type StoryRecord struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:64;index"`
	StyleName string    `gorm:"size:128"`
	Genre     string    `gorm:"size:128"`
	Epoch     string    `gorm:"size:128"`
	Macguffin string    `gorm:"size:255"`
	HeroName  string    `gorm:"size:64"`
	BaseStory string    `gorm:"type:text"`
	Victory   bool      ``
	TurnCount int       ``
	CreatedAt time.Time ``

	Turns []TurnRecord `gorm:"foreignKey:StoryID"`
}

// TurnRecord is one resolved beat of an archived story.
type TurnRecord struct {
	ID           uint   `gorm:"primaryKey"`
	StoryID      uint   `gorm:"index"`
	Beat         int    ``
	Segment      string `gorm:"type:text"`
	PlayerChoice string `gorm:"size:255"`
	GameTime     string `gorm:"size:8"`
	Location     string `gorm:"size:255"`
}

// Archive writes finished stories to MySQL.
type Archive struct {
	db *gorm.DB
}

func NewArchive(cfg config.MySQLConfig) (*Archive, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&StoryRecord{}, &TurnRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive tables: %w", err)
	}
	return &Archive{db: db}, nil
}

// ArchiveStory persists one finished story and all its turns atomically.
func (a *Archive) ArchiveStory(ctx context.Context, sessionID string, u *game.UniverseParameters, history []game.HistoryEntry, victory bool) error {
	record := StoryRecord{
		SessionID: sessionID,
		StyleName: u.Style.Name,
		Genre:     u.Genre,
		Epoch:     u.Epoch,
		Macguffin: u.Macguffin,
		HeroName:  u.Hero.Name,
		BaseStory: u.BaseStory,
		Victory:   victory,
		TurnCount: len(history),
	}
	for i, e := range history {
		record.Turns = append(record.Turns, TurnRecord{
			Beat:         i,
			Segment:      e.Segment,
			PlayerChoice: e.PlayerChoice,
			GameTime:     e.Time,
			Location:     e.Location,
		})
	}
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to archive story: %w", err)
	}
	return nil
}

func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
