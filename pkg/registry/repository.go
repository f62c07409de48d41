package registry

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrProblemNotFound  = errors.New("problem not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateFeature = errors.New("feature already registered")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&User{}, &Problem{}, &Feature{}, &Metric{}, &EvaluationAttempt{})
}

func (r *Repository) GetProblem(ctx context.Context, name string) (*Problem, error) {
	var problem Problem
	result := r.db.WithContext(ctx).First(&problem, "name = ?", name)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrProblemNotFound
	}
	return &problem, result.Error
}

func (r *Repository) GetProblemByID(ctx context.Context, id uint) (*Problem, error) {
	var problem Problem
	result := r.db.WithContext(ctx).First(&problem, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrProblemNotFound
	}
	return &problem, result.Error
}

func (r *Repository) ListProblems(ctx context.Context) ([]Problem, error) {
	var problems []Problem
	result := r.db.WithContext(ctx).Order("name").Find(&problems)
	return problems, result.Error
}

// SaveProblem creates the problem or replaces the one with the same name.
func (r *Repository) SaveProblem(ctx context.Context, problem *Problem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Problem
		err := tx.Select("id", "created_at").First(&existing, "name = ?", problem.Name).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(problem).Error
		case err != nil:
			return err
		}
		problem.ID = existing.ID
		problem.CreatedAt = existing.CreatedAt
		return tx.Save(problem).Error
	})
}

func (r *Repository) GetUser(ctx context.Context, name string) (*User, error) {
	var user User
	result := r.db.WithContext(ctx).First(&user, "name = ?", name)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return &user, result.Error
}

// CreateUser is idempotent; created reports whether a new row was written.
func (r *Repository) CreateUser(ctx context.Context, name string) (*User, bool, error) {
	existing, err := r.GetUser(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}
	user := &User{Name: name, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, err := r.GetUser(ctx, name)
			return existing, false, err
		}
		return nil, false, err
	}
	return user, true, nil
}

func (r *Repository) IsRegistered(ctx context.Context, problemID, userID uint, md5 string) (bool, error) {
	return isRegistered(r.db.WithContext(ctx), problemID, userID, md5)
}

func isRegistered(db *gorm.DB, problemID, userID uint, md5 string) (bool, error) {
	var count int64
	err := db.Model(&Feature{}).
		Where("problem_id = ? AND user_id = ? AND md5 = ?", problemID, userID, md5).
		Count(&count).Error
	return count > 0, err
}

// Register stores a feature and all of its metrics atomically. The
// duplicate check is repeated inside the transaction and backed by a unique
// index, so two concurrent registrations of the same code cannot both
// succeed.
func (r *Repository) Register(ctx context.Context, input RegisterInput) (*Feature, error) {
	feature := &Feature{
		UserID:      input.UserID,
		ProblemID:   input.ProblemID,
		Code:        input.Code,
		MD5:         input.MD5,
		Description: input.Description,
		CreatedAt:   time.Now().UTC(),
	}
	for _, m := range input.Metrics {
		feature.Metrics = append(feature.Metrics, Metric{Name: m.Name, Scoring: m.Scoring, Value: m.Value})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dup, err := isRegistered(tx, input.ProblemID, input.UserID, input.MD5)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateFeature
		}
		if err := tx.Omit("User", "Problem").Create(feature).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateFeature
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetFeature(ctx, feature.ID)
}

func (r *Repository) GetFeature(ctx context.Context, id uint) (*Feature, error) {
	var feature Feature
	result := r.db.WithContext(ctx).
		Preload("User").Preload("Problem").Preload("Metrics").
		First(&feature, id)
	return &feature, result.Error
}

// ListFeatures returns registered features of a problem, newest first.
func (r *Repository) ListFeatures(ctx context.Context, q FeatureQuery) ([]Feature, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	query := r.db.WithContext(ctx).
		Preload("User").Preload("Metrics").
		Where("problem_id = ?", q.ProblemID)
	if q.CodeContains != "" {
		query = query.Where("code LIKE ?", "%"+q.CodeContains+"%")
	}
	if q.ExcludeUserID != 0 {
		query = query.Where("user_id <> ?", q.ExcludeUserID)
	}
	if q.OnlyUserID != 0 {
		query = query.Where("user_id = ?", q.OnlyUserID)
	}
	var features []Feature
	result := query.Order("created_at desc").Order("id desc").Limit(q.Limit).Find(&features)
	return features, result.Error
}

func (r *Repository) LogAttempt(ctx context.Context, problemID, userID uint, code string) error {
	attempt := &EvaluationAttempt{
		UserID:    userID,
		ProblemID: problemID,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *Repository) CountAttempts(ctx context.Context, problemID, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&EvaluationAttempt{}).
		Where("problem_id = ? AND user_id = ?", problemID, userID).
		Count(&count).Error
	return count, err
}
