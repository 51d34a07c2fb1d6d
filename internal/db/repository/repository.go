package repository

import (
	"errors"
	"time"

	"liveness-gate-go/internal/core/models"

	"gorm.io/gorm"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Profil-Methoden
	GetProfileByID(id uint) (*models.ReferenceProfile, error)
	GetProfileByName(name string) (*models.ReferenceProfile, error)
	GetProfiles() ([]models.ReferenceProfile, error)
	SaveProfile(profile *models.ReferenceProfile) error
	DeleteProfile(id uint) error

	// Session-Methoden
	GetSessionBySessionID(sessionID string) (*models.VerificationSession, error)
	GetSessions(limit, offset int) ([]models.VerificationSession, int64, error)
	GetSessionsByProfileID(profileID uint) ([]models.VerificationSession, error)
	SaveSession(session *models.VerificationSession) error
	DeleteSession(id uint) error
	DeleteSessionsBefore(cutoff time.Time) (int64, error)

	// Statistik-Methoden
	GetStatistics() (models.Statistics, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Profil-Methoden

// GetProfileByID holt ein Referenzprofil anhand seiner ID
func (r *SQLiteRepository) GetProfileByID(id uint) (*models.ReferenceProfile, error) {
	var profile models.ReferenceProfile
	result := r.db.First(&profile, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &profile, nil
}

// GetProfileByName sucht ein Referenzprofil anhand des Namens
func (r *SQLiteRepository) GetProfileByName(name string) (*models.ReferenceProfile, error) {
	var profile models.ReferenceProfile
	result := r.db.Where("name = ?", name).First(&profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &profile, nil
}

// GetProfiles holt alle Referenzprofile
func (r *SQLiteRepository) GetProfiles() ([]models.ReferenceProfile, error) {
	var profiles []models.ReferenceProfile
	result := r.db.Order("name ASC").Find(&profiles)
	if result.Error != nil {
		return nil, result.Error
	}
	return profiles, nil
}

// SaveProfile speichert ein Referenzprofil
func (r *SQLiteRepository) SaveProfile(profile *models.ReferenceProfile) error {
	return r.db.Save(profile).Error
}

// DeleteProfile löscht ein Referenzprofil
func (r *SQLiteRepository) DeleteProfile(id uint) error {
	return r.db.Delete(&models.ReferenceProfile{}, id).Error
}

// Session-Methoden

// GetSessionBySessionID holt eine Session samt Challenge-Ergebnissen
// anhand ihrer externen Session-ID
func (r *SQLiteRepository) GetSessionBySessionID(sessionID string) (*models.VerificationSession, error) {
	var session models.VerificationSession
	result := r.db.Preload("Results").Where("session_id = ?", sessionID).First(&session)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &session, nil
}

// GetSessions holt Sessions mit Pagination, neueste zuerst
func (r *SQLiteRepository) GetSessions(limit, offset int) ([]models.VerificationSession, int64, error) {
	var sessions []models.VerificationSession
	var total int64

	r.db.Model(&models.VerificationSession{}).Count(&total)
	result := r.db.Preload("Results").Order("started_at DESC").Limit(limit).Offset(offset).Find(&sessions)

	if result.Error != nil {
		return nil, 0, result.Error
	}

	return sessions, total, nil
}

// GetSessionsByProfileID holt alle Sessions eines Referenzprofils
func (r *SQLiteRepository) GetSessionsByProfileID(profileID uint) ([]models.VerificationSession, error) {
	var sessions []models.VerificationSession
	result := r.db.Where("profile_id = ?", profileID).Order("started_at DESC").Find(&sessions)
	if result.Error != nil {
		return nil, result.Error
	}
	return sessions, nil
}

// SaveSession speichert eine Session samt ihrer Challenge-Ergebnisse
func (r *SQLiteRepository) SaveSession(session *models.VerificationSession) error {
	return r.db.Save(session).Error
}

// DeleteSession löscht eine Session
func (r *SQLiteRepository) DeleteSession(id uint) error {
	return r.db.Delete(&models.VerificationSession{}, id).Error
}

// DeleteSessionsBefore löscht alle Sessions, die vor dem Stichtag beendet
// wurden, und gibt die Anzahl der gelöschten Datensätze zurück
func (r *SQLiteRepository) DeleteSessionsBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("ended_at < ?", cutoff).Delete(&models.VerificationSession{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Statistik-Methoden

// GetStatistics gibt Statistiken über Profile und Sessions zurück
func (r *SQLiteRepository) GetStatistics() (models.Statistics, error) {
	var stats models.Statistics

	// Zähle Profile
	if err := r.db.Model(&models.ReferenceProfile{}).Count(&stats.TotalProfiles).Error; err != nil {
		return stats, err
	}

	// Zähle Sessions
	if err := r.db.Model(&models.VerificationSession{}).Count(&stats.TotalSessions).Error; err != nil {
		return stats, err
	}

	// Zähle regulär abgeschlossene Sessions
	if err := r.db.Model(&models.VerificationSession{}).
		Where("state = ?", "completed").
		Count(&stats.CompletedSessions).Error; err != nil {
		return stats, err
	}

	// Zähle bestandene Sessions
	if err := r.db.Model(&models.VerificationSession{}).
		Where("all_passed = ?", true).
		Count(&stats.PassedSessions).Error; err != nil {
		return stats, err
	}

	// Zähle abgebrochene Sessions
	if err := r.db.Model(&models.VerificationSession{}).
		Where("state = ?", "aborted").
		Count(&stats.AbortedSessions).Error; err != nil {
		return stats, err
	}

	// Ermittle die neueste Session
	var latest models.VerificationSession
	if err := r.db.Order("started_at DESC").First(&latest).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	} else {
		stats.LatestSession = latest.StartedAt
	}

	// Hole die letzten 5 Sessions
	if err := r.db.Preload("Results").Order("started_at DESC").Limit(5).
		Find(&stats.RecentSessions).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	}

	return stats, nil
}
