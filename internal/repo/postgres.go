package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/changefeed"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
)

const taskColumns = `id, family_id, title, description, assigned_to, created_by, priority, status,
	due_date, due_time, estimated_duration, actual_duration, tags, category,
	version, modified_by, created_at, updated_at, completed_at`

// PostgresProvider - реляционный бэкенд. Все запросы ограничены family_id.
type PostgresProvider struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *zap.Logger
	// selfPublish: внешний фид (Redis) не видит pg_notify триггера, сигнал шлёт сам репозиторий
	selfPublish bool
}

func NewPostgresProvider(pool *pgxpool.Pool, logger *zap.Logger, opts ...Option) *PostgresProvider {
	o := buildOptions(opts)
	selfPublish := o.Feed != nil
	if o.Feed == nil {
		o.Feed = changefeed.NewPostgres(pool, changefeed.DefaultPostgresChannel, logger)
	}
	return &PostgresProvider{pool: pool, opts: o, logger: logger, selfPublish: selfPublish}
}

func (p *PostgresProvider) Name() string { return "postgres" }

func (p *PostgresProvider) Ping(ctx context.Context) error {
	return backendError("ping", p.pool.Ping(ctx))
}

func (p *PostgresProvider) ForFamily(familyID string) (TaskRepository, error) {
	if err := checkFamily(familyID); err != nil {
		return nil, err
	}
	return &PostgresRepo{familyID: familyID, p: p}, nil
}

type PostgresRepo struct { // Репозиторий для работы непосредственно с БД
	familyID string
	p        *PostgresProvider
}

func (r *PostgresRepo) FamilyID() string { return r.familyID }

func (r *PostgresRepo) publish(ctx context.Context) {
	if !r.p.selfPublish {
		return
	}
	if err := r.p.opts.Feed.Publish(context.WithoutCancel(ctx), r.familyID); err != nil {
		r.p.logger.Warn("failed to publish change", zap.String("family_id", r.familyID), zap.Error(err))
	}
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	var priority, status string
	err := row.Scan(
		&t.ID, &t.FamilyID, &t.Title, &t.Description, &t.AssignedTo, &t.CreatedBy, &priority, &status,
		&t.DueDate, &t.DueTime, &t.EstimatedDuration, &t.ActualDuration, &t.Tags, &t.Category,
		&t.Version, &t.ModifiedBy, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	t.Priority = model.Priority(priority)
	t.Status = model.Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.CompletedAt != nil {
		c := t.CompletedAt.UTC()
		t.CompletedAt = &c
	}
	return t, err
}

func (r *PostgresRepo) CreateTask(ctx context.Context, n model.NewTask) (model.Task, error) {
	if err := n.Validate(); err != nil {
		return model.Task{}, err
	}
	t := model.FromNew(n, uuid.NewString(), r.familyID, r.p.opts.now())

	created, err := scanTask(r.p.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, family_id, title, description, assigned_to, created_by, priority, status,
			due_date, due_time, estimated_duration, tags, category, version, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15, $16)
		RETURNING `+taskColumns,
		t.ID, t.FamilyID, t.Title, t.Description, t.AssignedTo, t.CreatedBy, string(t.Priority), string(t.Status),
		t.DueDate, t.DueTime, t.EstimatedDuration, t.Tags, t.Category, t.Version, t.CreatedAt, t.CompletedAt,
	))
	if err != nil {
		return model.Task{}, r.mapError("create task", err)
	}
	r.publish(ctx)
	return created, nil
}

func (r *PostgresRepo) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(r.p.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND family_id = $2`, id, r.familyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.mapError("get task", err)
	}
	return &t, nil
}

func (r *PostgresRepo) GetTasks(ctx context.Context, filter *model.TaskFilter, sort *model.TaskSort) ([]model.Task, error) {
	if sort != nil {
		if err := sort.Validate(); err != nil {
			return nil, err
		}
	}
	if filter != nil && filter.MatchNone {
		return []model.Task{}, nil
	}

	where, args := buildWhere(r.familyID, filter)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` ORDER BY ` + buildOrderBy(sort)

	rows, err := r.p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapError("get tasks", err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, r.mapError("get tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapError("get tasks", err)
	}
	return tasks, nil
}

// buildWhere переводит фильтр в SQL; пустые предикаты не добавляются.
func buildWhere(familyID string, f *model.TaskFilter) (string, []any) {
	conds := []string{"family_id = $1"}
	args := []any{familyID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if f == nil {
		return conds[0], args
	}
	if len(f.Status) > 0 {
		add("status = ANY(?)", toStrings(f.Status))
	}
	if len(f.Priority) > 0 {
		add("priority = ANY(?)", toStrings(f.Priority))
	}
	if len(f.AssignedTo) > 0 {
		add("assigned_to && ?::text[]", f.AssignedTo)
	}
	if len(f.Tags) > 0 {
		add("tags && ?::text[]", f.Tags)
	}
	if f.DueDate != nil {
		conds = append(conds, "due_date IS NOT NULL")
		if f.DueDate.Start != nil {
			add("due_date >= ?::date", model.DateOf(*f.DueDate.Start))
		}
		if f.DueDate.End != nil {
			add("due_date < ?::date", model.DateOf(*f.DueDate.End))
		}
	}
	if f.Search != "" {
		add(`(title ILIKE ? ESCAPE '\' OR description ILIKE ? ESCAPE '\')`, "%"+escapeLike(f.Search)+"%")
	}
	return strings.Join(conds, " AND "), args
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

const (
	priorityRankSQL = `CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END`
	statusOrderSQL  = `CASE status WHEN 'pending' THEN 0 WHEN 'in_progress' THEN 1 WHEN 'completed' THEN 2 ELSE 3 END`
)

var sortColumns = map[model.SortField]string{
	model.SortDueDate:     "due_date",
	model.SortPriority:    priorityRankSQL,
	model.SortCreatedAt:   "created_at",
	model.SortTitle:       `lower(title) COLLATE "C"`,
	model.SortStatus:      statusOrderSQL,
	model.SortCompletedAt: "completed_at",
}

// buildOrderBy держит NULL в конце при любом направлении, как model.SortTasks.
func buildOrderBy(s *model.TaskSort) string {
	keys := []model.TaskSort{
		{Field: model.SortDueDate, Direction: model.Asc},
		{Field: model.SortPriority, Direction: model.Desc},
	}
	if s != nil {
		keys = []model.TaskSort{*s}
	}
	parts := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		dir := "ASC"
		if k.Direction == model.Desc {
			dir = "DESC"
		}
		parts = append(parts, sortColumns[k.Field]+" "+dir+" NULLS LAST")
	}
	return strings.Join(append(parts, "created_at ASC", "id ASC"), ", ")
}

func (r *PostgresRepo) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	if err := patch.Validate(); err != nil {
		return model.Task{}, err
	}

	var updated model.Task
	err := pgx.BeginFunc(ctx, r.p.pool, func(tx pgx.Tx) error {
		current, err := scanTask(tx.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND family_id = $2 FOR UPDATE`, id, r.familyID))
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return err
		}

		if err := patch.ValidateFor(current); err != nil {
			return err
		}
		patch.ApplyTo(&current, r.p.opts.now())

		updated, err = scanTask(tx.QueryRow(ctx, `
			UPDATE tasks
			SET title = $3, description = $4, assigned_to = COALESCE($5::text[], '{}'), priority = $6, status = $7,
				due_date = $8, due_time = $9, estimated_duration = $10, actual_duration = $11,
				tags = COALESCE($12::text[], '{}'), category = $13, version = version + 1, modified_by = $14,
				updated_at = $15, completed_at = $16
			WHERE id = $1 AND family_id = $2
			RETURNING `+taskColumns,
			id, r.familyID, current.Title, current.Description, current.AssignedTo,
			string(current.Priority), string(current.Status), current.DueDate, current.DueTime,
			current.EstimatedDuration, current.ActualDuration, current.Tags, current.Category,
			current.ModifiedBy, current.UpdatedAt, current.CompletedAt,
		))
		return err
	})
	if err != nil {
		return model.Task{}, r.mapError("update task", err)
	}
	r.publish(ctx)
	return updated, nil
}

func (r *PostgresRepo) DeleteTask(ctx context.Context, id string) error {
	_, err := r.UpdateTask(ctx, id, cancelPatch())
	return err
}

func (r *PostgresRepo) PermanentDeleteTask(ctx context.Context, id string) error {
	cmd, err := r.p.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1 AND family_id = $2", id, r.familyID)
	if err != nil {
		return r.mapError("delete task", err)
	}
	if cmd.RowsAffected() == 0 {
		return notFound(id)
	}
	r.publish(ctx)
	return nil
}

func (r *PostgresRepo) CompleteTask(ctx context.Context, id string, actualDuration *int) (model.Task, error) {
	return r.UpdateTask(ctx, id, completePatch(actualDuration, r.p.opts.now()))
}

func (r *PostgresRepo) GetSmartList(ctx context.Context, t smartlist.Type, userID string) ([]model.Task, error) {
	return smartList(ctx, r, r.p.opts.Clock(), t, userID)
}

// OnTasksChange слушает канал task_changes; триггер из миграций шлёт family_id.
func (r *PostgresRepo) OnTasksChange(ctx context.Context, cb Callback, filter *model.TaskFilter, userID string) (Unsubscribe, error) {
	f := filter.WithAssignee(userID)
	fetch := func(ctx context.Context) ([]model.Task, error) {
		return r.GetTasks(ctx, f, nil)
	}
	return subscribe(ctx, r.p.opts.Feed, r.familyID, r.p.opts.RefreshTimeout, fetch, cb, r.p.logger)
}

func (r *PostgresRepo) BatchUpdateTasks(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	return runBatch(ctx, r.p.opts.Workers, items, r.UpdateTask)
}

func (r *PostgresRepo) mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "23502", "22P02", "22007", "22008":
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.Message)
		}
	}
	return backendError(op, err)
}
