package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const enabledRuleCacheTTL = 30 * time.Second

type ruleRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *gorm.DB, redis *redis.Client) RuleRepository {
	return &ruleRepository{
		db:    db,
		redis: redis,
	}
}

// Create creates a new rule
func (r *ruleRepository) Create(ctx context.Context, rule *models.Rule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	r.invalidateRuleCache(rule.OrgID, rule.TriggerKey)

	return nil
}

// GetByID retrieves a rule by ID scoped to an org
func (r *ruleRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Rule, error) {
	var rule models.Rule

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule by ID: %w", err)
	}

	return &rule, nil
}

// ListByOrg retrieves an org's rules with pagination
func (r *ruleRepository) ListByOrg(ctx context.Context, orgID uint, limit, offset int) ([]*models.Rule, error) {
	var rules []*models.Rule

	query := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules by org: %w", err)
	}

	return rules, nil
}

// ListEnabledByTrigger retrieves an org's enabled rules for a trigger,
// consulting a short-lived cache so hot triggers avoid a query per event.
func (r *ruleRepository) ListEnabledByTrigger(ctx context.Context, orgID uint, trigger models.TriggerKey) ([]*models.Rule, error) {
	cacheKey := r.cacheKey(orgID, trigger)

	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var rules []*models.Rule
			if err := json.Unmarshal(cached, &rules); err == nil {
				return rules, nil
			}
		}
	}

	var rules []*models.Rule
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND trigger_key = ? AND enabled = ?", orgID, trigger, true).
		Order("id ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}

	if r.redis != nil {
		if encoded, err := json.Marshal(rules); err == nil {
			r.redis.Set(ctx, cacheKey, encoded, enabledRuleCacheTTL)
		}
	}

	return rules, nil
}

// Update updates a rule
func (r *ruleRepository) Update(ctx context.Context, rule *models.Rule) error {
	if err := r.db.WithContext(ctx).Save(rule).Error; err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	r.invalidateRuleCache(rule.OrgID, rule.TriggerKey)

	return nil
}

// Delete soft deletes a rule
func (r *ruleRepository) Delete(ctx context.Context, orgID, id uint) error {
	rule, err := r.GetByID(ctx, orgID, id)
	if err != nil {
		return err
	}
	if rule == nil {
		return nil
	}

	if err := r.db.WithContext(ctx).Delete(&models.Rule{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	r.invalidateRuleCache(rule.OrgID, rule.TriggerKey)

	return nil
}

// TouchLastRun records the most recent run time without bumping updated_at
func (r *ruleRepository) TouchLastRun(ctx context.Context, id uint, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ?", id).
		UpdateColumn("last_run_at", at).Error; err != nil {
		return fmt.Errorf("failed to touch rule last run: %w", err)
	}

	return nil
}

func (r *ruleRepository) cacheKey(orgID uint, trigger models.TriggerKey) string {
	return fmt.Sprintf("automation:rules:%d:%s", orgID, trigger)
}

// invalidateRuleCache drops the enabled-rule cache entry for the trigger
func (r *ruleRepository) invalidateRuleCache(orgID uint, trigger models.TriggerKey) {
	if r.redis == nil {
		return
	}

	r.redis.Del(context.Background(), r.cacheKey(orgID, trigger))
}
