// Command taskwatch binds a task store to one family and logs its filtered list every time
// the backend reports a change.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/bootstrap"
	"github.com/BuzzLyutic/family-hub/internal/config"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
	"github.com/BuzzLyutic/family-hub/internal/store"
	"github.com/BuzzLyutic/family-hub/internal/worker"
)

type options struct {
	family    string
	user      string
	statuses  []string
	smartList string
	sortField string
	sortDir   string
	backend   string
	once      bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("taskwatch", pflag.ContinueOnError)
	fs.StringVarP(&o.family, "family", "f", bootstrap.DemoFamilyID, "family id to watch")
	fs.StringVarP(&o.user, "user", "u", "", "only tasks assigned to this user")
	fs.StringSliceVar(&o.statuses, "status", nil, "statuses to show (pending,in_progress,completed,cancelled)")
	fs.StringVar(&o.smartList, "smart-list", "", "load a smart list instead of the full list")
	fs.StringVar(&o.sortField, "sort", "", "sort field (due_date, priority, created_at, title, status, completed_at)")
	fs.StringVar(&o.sortDir, "dir", string(model.Asc), "sort direction")
	fs.StringVar(&o.backend, "backend", "", "override BACKEND (memory, postgres, mongo)")
	fs.BoolVar(&o.once, "once", false, "print the list once and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.smartList != "" && !smartlist.Type(o.smartList).Valid() {
		return options{}, fmt.Errorf("unknown smart list %q", o.smartList)
	}
	return o, nil
}

func (o options) filter() *model.TaskFilter {
	if len(o.statuses) == 0 {
		return nil
	}
	f := &model.TaskFilter{}
	for _, s := range o.statuses {
		f.Status = append(f.Status, model.Status(s))
	}
	return f
}

func (o options) sort() (*model.TaskSort, error) {
	if o.sortField == "" {
		return nil, nil
	}
	s := &model.TaskSort{Field: model.SortField(o.sortField), Direction: model.Direction(o.sortDir)}
	return s, s.Validate()
}

// view returns what the watcher subscribes to at the instant now. A smart list is
// classified here with the user folded into its filter.
func (o options) view(now time.Time) (*model.TaskFilter, *model.TaskSort, string, error) {
	if o.smartList != "" {
		l, err := smartlist.Classify(smartlist.Type(o.smartList), now, o.user)
		if err != nil {
			return nil, nil, "", err
		}
		return &l.Filter, l.Sort, "", nil
	}
	sort, err := o.sort()
	return o.filter(), sort, o.user, err
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		logger.Fatal("Invalid flags", zap.Error(err))
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}

	if err := run(cfg, opts, logger); err != nil {
		logger.Fatal("taskwatch failed", zap.Error(err))
	}
}

func run(cfg config.Config, opts options, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool := worker.NewPool(logger, cfg.WorkerCount)
	pool.Start(ctx)
	defer pool.Stop()

	backend, err := bootstrap.Open(ctx, cfg, logger, pool)
	if err != nil {
		return err
	}
	defer backend.Close()

	s := store.New(backend.Provider, logger, store.WithCallTimeout(cfg.CallTimeout))
	if err := s.InitializeRepository(opts.family); err != nil {
		return err
	}
	defer s.Reset()

	sort, err := opts.sort()
	if err != nil {
		return err
	}

	if opts.smartList != "" {
		err = s.LoadSmartList(ctx, smartlist.Type(opts.smartList), opts.user)
	} else {
		err = s.LoadTasks(ctx, opts.filter(), sort)
	}
	if err != nil {
		return err
	}
	logState(logger, s.Snapshot())
	if opts.once {
		return nil
	}

	remove := s.OnChange(func(st store.State) { logState(logger, st) })
	defer remove()

	logger.Info("Watching tasks", zap.String("family_id", opts.family), zap.String("backend", backend.Provider.Name()))
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	return watch(ctx, s, opts, time.Now, ticker.C)
}

// watch keeps the store synced with the view of opts until ctx is done. Smart lists
// depend on the date, so they are classified again once the calendar day changes.
func watch(ctx context.Context, s *store.Store, opts options, clock func() time.Time, ticks <-chan time.Time) error {
	now := clock()
	if err := follow(ctx, s, opts, now); err != nil {
		return err
	}
	defer s.StopRealTimeSync()

	day := model.DateOf(now)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			now = clock()
			if opts.smartList == "" || model.DateOf(now).Equal(day) {
				continue
			}
			day = model.DateOf(now)
			if err := follow(ctx, s, opts, now); err != nil {
				return err
			}
		}
	}
}

// follow (re)subscribes the store with the view's filter.
func follow(ctx context.Context, s *store.Store, opts options, now time.Time) error {
	filter, sort, user, err := opts.view(now)
	if err != nil {
		return err
	}
	// push заменяет список целиком, фильтр и сортировку дублируем локально
	s.SetFilter(filter)
	s.SetSort(sort)
	return s.StartRealTimeSync(ctx, filter, user)
}

func logState(logger *zap.Logger, st store.State) {
	if st.Loading {
		return
	}
	if st.Err != nil {
		logger.Warn("store error", zap.String("family_id", st.FamilyID), zap.Error(st.Err))
	}
	lines := make([]string, 0, len(st.FilteredTasks))
	for _, t := range st.FilteredTasks {
		lines = append(lines, formatTask(t))
	}
	logger.Info("tasks",
		zap.String("family_id", st.FamilyID),
		zap.Int("total", len(st.Tasks)),
		zap.Int("shown", len(st.FilteredTasks)),
		zap.Strings("list", lines))
}

func formatTask(t model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (%s)", t.Status, t.Title, t.Priority)
	if t.DueDate != nil {
		fmt.Fprintf(&b, " due %s", t.DueDate.Format(model.DateLayout))
		if t.DueTime != "" {
			fmt.Fprintf(&b, " %s", t.DueTime)
		}
	}
	if len(t.AssignedTo) > 0 {
		fmt.Fprintf(&b, " -> %s", strings.Join(t.AssignedTo, ","))
	}
	return b.String()
}
