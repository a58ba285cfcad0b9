package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

var (
	_ ConnectionRepository = (*GormConnectionRepo)(nil)
	_ TenantRepository     = (*GormTenantRepo)(nil)
)

// ConnectionModel mirrors the integration_connections table for the embedded backend.
type ConnectionModel struct {
	ID                   int64                     `gorm:"primaryKey;autoIncrement:false"`
	Provider             string                    `gorm:"not null;uniqueIndex:integration_connections_one_active,where:is_active;index:integration_connections_owner"`
	TenantID             int64                     `gorm:"not null;uniqueIndex:integration_connections_one_active,where:is_active;index:integration_connections_owner"`
	UserID               string                    `gorm:"not null;uniqueIndex:integration_connections_one_active,where:is_active;index:integration_connections_owner"`
	EncryptedPayload     string                    `gorm:"not null"`
	// AccountSummary duplicates the non-secret display fields of the sealed payload so list
	// and history reads never unseal.
	AccountSummary       connection.AccountSummary `gorm:"serializer:json"`
	ExpiresAt            *time.Time
	LastVerifiedAt       *time.Time
	VerificationFailedAt *time.Time
	IsActive             bool `gorm:"not null;default:true"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeactivatedAt        *time.Time
}

func (ConnectionModel) TableName() string { return "integration_connections" }

// TenantModel mirrors the tenants table.
type TenantModel struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement:false"`
	Name               string `gorm:"not null"`
	Slug               string `gorm:"not null;uniqueIndex"`
	Tier               string `gorm:"not null;default:free"`
	SubscriptionStatus string `gorm:"not null;default:inactive"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (TenantModel) TableName() string { return "tenants" }

// MembershipModel mirrors the tenant_memberships table.
type MembershipModel struct {
	TenantID  int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID    string `gorm:"primaryKey"`
	Role      string `gorm:"not null;default:member"`
	CreatedAt time.Time
}

func (MembershipModel) TableName() string { return "tenant_memberships" }

// AutoMigrate creates the embedded schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TenantModel{}, &MembershipModel{}, &ConnectionModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// GormConnectionRepo implements ConnectionRepository on gorm, used with SQLite for
// single-node deployments and tests.
type GormConnectionRepo struct {
	db *gorm.DB
}

func NewGormConnectionRepo(db *gorm.DB) *GormConnectionRepo {
	return &GormConnectionRepo{db: db}
}

func (r *GormConnectionRepo) ReplaceActive(ctx context.Context, rec connection.Record) (connection.Record, error) {
	saved, err := r.replaceActive(ctx, rec)
	if err != nil && isDuplicateKey(err) {
		saved, err = r.replaceActive(ctx, rec)
	}
	if err != nil {
		return connection.Record{}, fmt.Errorf("replace active connection: %w", err)
	}
	return saved, nil
}

func (r *GormConnectionRepo) replaceActive(ctx context.Context, rec connection.Record) (connection.Record, error) {
	model := toConnectionModel(rec)
	model.IsActive = true
	model.UpdatedAt = model.CreatedAt
	model.DeactivatedAt = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ConnectionModel{}).
			Where("tenant_id = ? AND user_id = ? AND provider = ? AND is_active = ?", rec.TenantID, rec.UserID, rec.Provider.String(), true).
			Updates(map[string]any{"is_active": false, "deactivated_at": rec.CreatedAt, "updated_at": rec.CreatedAt}).Error; err != nil {
			return fmt.Errorf("deactivate previous: %w", err)
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return connection.Record{}, err
	}
	return fromConnectionModel(model), nil
}

func (r *GormConnectionRepo) GetActive(ctx context.Context, owner connection.Owner, provider connection.Provider) (connection.Record, error) {
	var model ConnectionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND provider = ? AND is_active = ?", owner.TenantID, owner.UserID, provider.String(), true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return connection.Record{}, connection.ErrNotFound
		}
		return connection.Record{}, fmt.Errorf("get active connection: %w", err)
	}
	return fromConnectionModel(model), nil
}

func (r *GormConnectionRepo) ListActive(ctx context.Context, owner connection.Owner) ([]connection.Record, error) {
	var models []ConnectionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND is_active = ?", owner.TenantID, owner.UserID, true).
		Order("provider").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	return fromConnectionModels(models), nil
}

func (r *GormConnectionRepo) ListHistory(ctx context.Context, owner connection.Owner, provider connection.Provider) ([]connection.Record, error) {
	var models []ConnectionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND provider = ?", owner.TenantID, owner.UserID, provider.String()).
		Order("created_at DESC").Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list connection history: %w", err)
	}
	return fromConnectionModels(models), nil
}

func (r *GormConnectionRepo) ListActiveAfter(ctx context.Context, afterID int64, limit int) ([]connection.Record, error) {
	var models []ConnectionModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND id > ?", true, afterID).
		Order("id").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("page active connections: %w", err)
	}
	return fromConnectionModels(models), nil
}

func (r *GormConnectionRepo) Deactivate(ctx context.Context, owner connection.Owner, provider connection.Provider, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&ConnectionModel{}).
		Where("tenant_id = ? AND user_id = ? AND provider = ? AND is_active = ?", owner.TenantID, owner.UserID, provider.String(), true).
		Updates(map[string]any{"is_active": false, "deactivated_at": at, "updated_at": at})
	if res.Error != nil {
		return fmt.Errorf("deactivate connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return connection.ErrNotFound
	}
	return nil
}

func (r *GormConnectionRepo) UpdateCredential(ctx context.Context, id int64, payload string, expiresAt *time.Time, at time.Time) error {
	return r.updateOne(ctx, "update credential", r.db.Where("id = ? AND is_active = ?", id, true), map[string]any{
		"encrypted_payload": payload,
		"expires_at":        expiresAt,
		"last_verified_at":  at,
		"updated_at":        at,
	})
}

func (r *GormConnectionRepo) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	return r.updateOne(ctx, "mark verified", r.db.Where("id = ?", id), map[string]any{
		"last_verified_at": at,
		"updated_at":       at,
	})
}

func (r *GormConnectionRepo) MarkVerificationFailed(ctx context.Context, id int64, at time.Time) error {
	return r.updateOne(ctx, "mark verification failed", r.db.Where("id = ?", id), map[string]any{
		"verification_failed_at": at,
		"updated_at":             at,
	})
}

func (r *GormConnectionRepo) updateOne(ctx context.Context, op string, scope *gorm.DB, values map[string]any) error {
	res := scope.WithContext(ctx).Model(&ConnectionModel{}).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return connection.ErrNotFound
	}
	return nil
}

func toConnectionModel(rec connection.Record) ConnectionModel {
	return ConnectionModel{
		ID:                   rec.ID,
		Provider:             rec.Provider.String(),
		TenantID:             rec.TenantID,
		UserID:               rec.UserID,
		EncryptedPayload:     rec.EncryptedPayload,
		AccountSummary:       rec.Account,
		ExpiresAt:            rec.ExpiresAt,
		LastVerifiedAt:       rec.LastVerifiedAt,
		VerificationFailedAt: rec.VerificationFailedAt,
		IsActive:             rec.IsActive,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
		DeactivatedAt:        rec.DeactivatedAt,
	}
}

func fromConnectionModel(m ConnectionModel) connection.Record {
	return connection.Record{
		ID:                   m.ID,
		Provider:             connection.Provider(m.Provider),
		TenantID:             m.TenantID,
		UserID:               m.UserID,
		EncryptedPayload:     m.EncryptedPayload,
		Account:              m.AccountSummary,
		ExpiresAt:            m.ExpiresAt,
		LastVerifiedAt:       m.LastVerifiedAt,
		VerificationFailedAt: m.VerificationFailedAt,
		IsActive:             m.IsActive,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		DeactivatedAt:        m.DeactivatedAt,
	}
}

func fromConnectionModels(models []ConnectionModel) []connection.Record {
	res := make([]connection.Record, 0, len(models))
	for _, m := range models {
		res = append(res, fromConnectionModel(m))
	}
	return res
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GormTenantRepo implements TenantRepository on gorm.
type GormTenantRepo struct {
	db *gorm.DB
}

func NewGormTenantRepo(db *gorm.DB) *GormTenantRepo {
	return &GormTenantRepo{db: db}
}

func (r *GormTenantRepo) GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	var model TenantModel
	if err := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&model).Error; err != nil {
		return domain.Tenant{}, mapGormTenantErr("get tenant", err)
	}
	return fromTenantModel(model), nil
}

func (r *GormTenantRepo) GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	var model TenantModel
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&model).Error; err != nil {
		return domain.Tenant{}, mapGormTenantErr("get tenant by slug", err)
	}
	return fromTenantModel(model), nil
}

func (r *GormTenantRepo) GetMembership(ctx context.Context, tenantID int64, userID string) (domain.Membership, error) {
	var model MembershipModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).First(&model).Error; err != nil {
		return domain.Membership{}, mapGormTenantErr("get membership", err)
	}
	return domain.Membership{
		TenantID:  model.TenantID,
		UserID:    model.UserID,
		Role:      domain.Role(model.Role),
		CreatedAt: model.CreatedAt,
	}, nil
}

func (r *GormTenantRepo) UpsertTenant(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	model := TenantModel{
		ID:                 tenant.ID,
		Name:               tenant.Name,
		Slug:               tenant.Slug,
		Tier:               string(tenant.Tier),
		SubscriptionStatus: tenant.SubscriptionStatus,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "slug", "tier", "subscription_status", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("upsert tenant: %w", err)
	}
	return r.GetTenant(ctx, tenant.ID)
}

func (r *GormTenantRepo) UpsertMembership(ctx context.Context, m domain.Membership) error {
	model := MembershipModel{TenantID: m.TenantID, UserID: m.UserID, Role: string(m.Role)}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func fromTenantModel(m TenantModel) domain.Tenant {
	return domain.Tenant{
		ID:                 m.ID,
		Name:               m.Name,
		Slug:               m.Slug,
		Tier:               domain.Tier(m.Tier),
		SubscriptionStatus: m.SubscriptionStatus,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func mapGormTenantErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTenantNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
