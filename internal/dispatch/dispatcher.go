// Package dispatch は公開時刻に達した投稿枠をPublisherに渡し、結果を記録する。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/postplan/internal/hashtag"
	"github.com/hitoshi/postplan/internal/metrics"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/publisher"
)

// TagsPlacement はローテーションしたタグの配置先。
type TagsPlacement string

const (
	// PlacementCaption はキャプション末尾に空行を挟んでタグを付ける。
	PlacementCaption TagsPlacement = "caption"
	// PlacementComment は公開後にコメントとしてタグを付ける。
	PlacementComment TagsPlacement = "comment"
)

// ParseTagsPlacement は文字列から配置先を解析する。空文字はcaptionとみなす。
func ParseTagsPlacement(s string) (TagsPlacement, error) {
	switch TagsPlacement(s) {
	case "", PlacementCaption:
		return PlacementCaption, nil
	case PlacementComment:
		return PlacementComment, nil
	}
	return "", model.NewValidationError(fmt.Sprintf("未知のタグ配置先です: %q", s))
}

// SlotStore はディスパッチで使用する投稿枠の操作。
type SlotStore interface {
	FindByID(ctx context.Context, id int64) (*model.Slot, error)
	ListDue(ctx context.Context, now time.Time, kind model.Kind, limit int) ([]*model.Slot, error)
	MarkPosted(ctx context.Context, slotID int64, post *model.Post) (bool, error)
	MarkFailed(ctx context.Context, slotID int64, post *model.Post) (bool, error)
	SkipStale(ctx context.Context, before time.Time) (int64, error)
	Reset(ctx context.Context, slotID int64) (bool, error)
}

// ContentReader はコンテンツとキャプション候補の参照。
type ContentReader interface {
	FindByID(ctx context.Context, id int64) (*model.Content, error)
	FindVariant(ctx context.Context, contentID int64, variantNo int) (*model.CaptionVariant, error)
}

// ImageSetReader は画像セットの参照。
type ImageSetReader interface {
	FindByID(ctx context.Context, id int64) (*model.ImageSet, error)
}

// StoryReader はストーリーの参照。
type StoryReader interface {
	FindByID(ctx context.Context, id int64) (*model.Story, error)
}

// PoolReader は有効なハッシュタグプールの参照。
type PoolReader interface {
	ActiveHashtagPools(ctx context.Context) (map[string]string, error)
}

// Config はDispatcherの動作設定。
type Config struct {
	// PublishTimeout はPublisher呼び出し1回あたりのタイムアウト。
	PublishTimeout time.Duration
	// SkipGrace を過ぎても未バインドの投稿枠は skipped にする。0以下なら行わない。
	SkipGrace time.Duration
	// LeaseTTL は投稿枠リースの有効期間。0ならPublishTimeoutの2倍。
	LeaseTTL      time.Duration
	TagsPlacement TagsPlacement
}

const defaultPublishTimeout = 60 * time.Second

// PassResult はディスパッチ1回分の集計。
type PassResult struct {
	Selected  int `json:"selected"`
	Posted    int `json:"posted"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Contended int `json:"contended"`
	// Unsettled はリース取得や結果記録の失敗で状態を確定できなかった投稿枠の数。
	// これらは queued のまま残り、次回のディスパッチで再び対象になる。
	Unsettled int `json:"unsettled"`
}

// publication は種別ハンドラーが解決した公開内容。
type publication struct {
	caption string
	tags    string
	// withTags がfalseの種別はタグを付けない。
	withTags bool
	publish  func(ctx context.Context, caption string) (string, error)
}

// kindHandler は投稿枠から公開内容を解決する。
type kindHandler func(ctx context.Context, slot *model.Slot) (*publication, error)

// Dispatcher は公開期限に達したバインド済み投稿枠を公開し、終端状態へ遷移させる。
type Dispatcher struct {
	slots     SlotStore
	contents  ContentReader
	imageSets ImageSetReader
	stories   StoryReader
	pools     PoolReader
	publisher publisher.Publisher
	lease     Lease
	sink      OutcomeSink
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	cfg       Config
	handlers  map[model.Kind]kindHandler
	now       func() time.Time
}

// Option はDispatcherの任意設定。
type Option func(*Dispatcher)

// WithLease はリース実装を指定する。既定はLocalLease。
func WithLease(l Lease) Option {
	return func(d *Dispatcher) { d.lease = l }
}

// WithOutcomeSink は公開結果の通知先を指定する。既定はNopSink。
func WithOutcomeSink(s OutcomeSink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithMetrics はメトリクス記録先を指定する。
func WithMetrics(mc metrics.MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = metrics.OrNoop(mc) }
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	slots SlotStore,
	contents ContentReader,
	imageSets ImageSetReader,
	stories StoryReader,
	pools PoolReader,
	pub publisher.Publisher,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * cfg.PublishTimeout
	}
	if cfg.TagsPlacement == "" {
		cfg.TagsPlacement = PlacementCaption
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		slots:     slots,
		contents:  contents,
		imageSets: imageSets,
		stories:   stories,
		pools:     pools,
		publisher: pub,
		lease:     NewLocalLease(),
		sink:      NopSink{},
		logger:    logger,
		metrics:   metrics.Noop{},
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.handlers = map[model.Kind]kindHandler{
		model.KindMeme:     d.resolvePhoto,
		model.KindReel:     d.resolveVideo,
		model.KindCarousel: d.resolveImageSet,
		model.KindStory:    d.resolveStory,
	}
	return d
}

// ProcessDue は now 時点で公開期限に達した投稿枠を公開時刻順に処理する。
// kindが空なら全種別、limitが0以下なら件数無制限。
// 投稿枠ごとの失敗はその投稿枠を failed にするだけで、処理全体は継続する。
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time, kind model.Kind, limit int) (*PassResult, error) {
	if kind != "" && !kind.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("未知の種別です: %q", kind))
	}

	result := &PassResult{}

	if d.cfg.SkipGrace > 0 {
		n, err := d.slots.SkipStale(ctx, now.Add(-d.cfg.SkipGrace))
		if err != nil {
			d.logger.Warn("未バインド投稿枠のスキップに失敗しました",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			result.Skipped = int(n)
			d.metrics.RecordSlotsSkipped(int(n))
			d.logger.Info("未バインドのまま期限切れになった投稿枠をスキップしました",
				slog.Int64("count", n),
			)
		}
	}

	due, err := d.slots.ListDue(ctx, now, kind, limit)
	if err != nil {
		return result, fmt.Errorf("公開対象の投稿枠の取得に失敗しました: %w", err)
	}
	result.Selected = len(due)
	if len(due) == 0 {
		return result, nil
	}

	pools, err := d.pools.ActiveHashtagPools(ctx)
	if err != nil {
		// タグなしでも公開は続行する
		d.logger.Warn("ハッシュタグプールの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		pools = nil
	}

	for _, slot := range due {
		if ctx.Err() != nil {
			break
		}
		switch d.processSlot(ctx, slot, pools) {
		case metrics.OutcomePosted:
			result.Posted++
		case metrics.OutcomeFailed:
			result.Failed++
		case metrics.OutcomeContended:
			result.Contended++
		default:
			result.Unsettled++
		}
	}

	d.logger.Info("ディスパッチが完了しました",
		slog.Int("selected", result.Selected),
		slog.Int("posted", result.Posted),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Int("contended", result.Contended),
		slog.Int("unsettled", result.Unsettled),
	)
	return result, ctx.Err()
}

// processSlot は投稿枠1件を公開し、結果（metricsのOutcome値）を返す。
// 空文字は状態を確定できなかったことを表す。
func (d *Dispatcher) processSlot(ctx context.Context, slot *model.Slot, pools map[string]string) (outcome string) {
	logger := d.logger.With(
		slog.Int64("slot_id", slot.ID),
		slog.String("kind", string(slot.Kind)),
	)

	release, ok, err := d.lease.Acquire(ctx, slot.ID, d.cfg.LeaseTTL)
	if err != nil {
		logger.Error("リースの取得に失敗しました", slog.String("error", err.Error()))
		return ""
	}
	if !ok {
		logger.Info("他の実行者が処理中のためスキップしました")
		d.metrics.RecordDispatchOutcome(string(slot.Kind), metrics.OutcomeContended)
		return metrics.OutcomeContended
	}
	defer release()

	// リース取得までの間に他の実行者が確定させていないか再確認する
	current, err := d.slots.FindByID(ctx, slot.ID)
	if err != nil {
		logger.Error("投稿枠の再取得に失敗しました", slog.String("error", err.Error()))
		return ""
	}
	if current == nil || current.Status != model.SlotStatusQueued {
		d.metrics.RecordDispatchOutcome(string(slot.Kind), metrics.OutcomeContended)
		return metrics.OutcomeContended
	}
	slot = current

	defer func() {
		if r := recover(); r != nil {
			logger.Error("投稿枠の処理中にpanicが発生しました", slog.Any("panic", r))
			outcome = d.fail(ctx, slot, fmt.Sprintf("内部エラー: %v", r), logger)
		}
	}()

	handler, ok := d.handlers[slot.Kind]
	if !ok {
		return d.fail(ctx, slot, fmt.Sprintf("未知の種別です: %q", slot.Kind), logger)
	}

	pub, err := handler(ctx, slot)
	if err != nil {
		return d.fail(ctx, slot, err.Error(), logger)
	}

	tags := ""
	if pub.withTags {
		tags = hashtag.Render(hashtag.Merge(pub.tags, hashtag.Rotate(slot.ID, pools)))
	}
	caption := pub.caption
	if tags != "" && d.cfg.TagsPlacement == PlacementCaption {
		caption = joinCaption(caption, tags)
	}

	start := time.Now()
	platformID, err := d.withTimeout(ctx, func(ctx context.Context) (string, error) {
		return pub.publish(ctx, caption)
	})
	d.metrics.RecordPublishLatency(string(slot.Kind), time.Since(start))
	if err != nil {
		return d.fail(ctx, slot, err.Error(), logger)
	}

	post := &model.Post{
		ID:             uuid.NewString(),
		PlatformPostID: platformID,
	}
	if tags != "" && d.cfg.TagsPlacement == PlacementComment {
		_, err := d.withTimeout(ctx, func(ctx context.Context) (string, error) {
			return "", d.publisher.AttachSupplementaryText(ctx, platformID, tags)
		})
		if err != nil {
			// 公開自体は成功しているため posted のまま記録だけ残す
			logger.Warn("タグのコメント付与に失敗しました",
				slog.String("platform_post_id", platformID),
				slog.String("error", err.Error()),
			)
			post.Error = fmt.Sprintf("タグのコメント付与に失敗しました: %v", err)
		}
	}

	postedAt := d.now().UTC()
	post.PostedAt = &postedAt
	settled, err := d.slots.MarkPosted(ctx, slot.ID, post)
	if err != nil {
		logger.Error("公開結果の記録に失敗しました",
			slog.String("platform_post_id", platformID),
			slog.String("error", err.Error()),
		)
		// 公開済みのIDを失わないよう通知だけは送る
		d.emit(ctx, slot, model.SlotStatusPosted, platformID,
			fmt.Sprintf("公開結果の記録に失敗しました: %v", err))
		return ""
	}
	if !settled {
		logger.Warn("公開後に投稿枠が他の実行者により確定されていました",
			slog.String("platform_post_id", platformID),
		)
		d.metrics.RecordDispatchOutcome(string(slot.Kind), metrics.OutcomeContended)
		return metrics.OutcomeContended
	}

	logger.Info("投稿枠を公開しました", slog.String("platform_post_id", platformID))
	d.metrics.RecordDispatchOutcome(string(slot.Kind), metrics.OutcomePosted)
	d.emit(ctx, slot, model.SlotStatusPosted, platformID, "")
	return metrics.OutcomePosted
}

// fail は投稿枠を failed にし、理由を公開記録に残す。
func (d *Dispatcher) fail(ctx context.Context, slot *model.Slot, reason string, logger *slog.Logger) string {
	logger.Warn("投稿枠の公開に失敗しました", slog.String("error", reason))

	settled, err := d.slots.MarkFailed(ctx, slot.ID, &model.Post{
		ID:    uuid.NewString(),
		Error: reason,
	})
	if err != nil {
		logger.Error("失敗結果の記録に失敗しました", slog.String("error", err.Error()))
		return ""
	}
	if !settled {
		d.metrics.RecordDispatchOutcome(string(slot.Kind), metrics.OutcomeContended)
		return metrics.OutcomeContended
	}

	d.metrics.RecordDispatchOutcome(string(slot.Kind), metrics.OutcomeFailed)
	d.emit(ctx, slot, model.SlotStatusFailed, "", reason)
	return metrics.OutcomeFailed
}

// withTimeout はPublisher呼び出しにタイムアウトを設定する。タイムアウトは失敗として扱い再試行しない。
func (d *Dispatcher) withTimeout(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	id, err := call(callCtx)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("公開がタイムアウトしました (%s): %w", d.cfg.PublishTimeout, err)
		}
		return "", err
	}
	return id, nil
}

// emit は公開結果を通知する。通知の失敗は記録のみ。
func (d *Dispatcher) emit(ctx context.Context, slot *model.Slot, status, platformID, errText string) {
	err := d.sink.Publish(ctx, Outcome{
		SlotID:         slot.ID,
		Kind:           string(slot.Kind),
		Status:         status,
		PlatformPostID: platformID,
		Error:          errText,
		ScheduledTime:  slot.ScheduledTime.UTC(),
		OccurredAt:     d.now().UTC(),
	})
	if err != nil {
		d.logger.Warn("公開結果の通知に失敗しました",
			slog.Int64("slot_id", slot.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ResetSlot は failed の投稿枠を queued に戻す。
func (d *Dispatcher) ResetSlot(ctx context.Context, slotID int64) error {
	slot, err := d.slots.FindByID(ctx, slotID)
	if err != nil {
		return fmt.Errorf("投稿枠の取得に失敗しました: %w", err)
	}
	if slot == nil {
		return model.NewNotFoundError("投稿枠", slotID)
	}
	ok, err := d.slots.Reset(ctx, slotID)
	if err != nil {
		return fmt.Errorf("投稿枠のリセットに失敗しました: %w", err)
	}
	if !ok {
		return model.NewInvalidStateError(
			fmt.Sprintf("failed 以外の投稿枠はリセットできません (status=%s)", slot.Status))
	}
	d.logger.Info("投稿枠をリセットしました", slog.Int64("slot_id", slotID))
	return nil
}

func joinCaption(caption, tags string) string {
	if caption == "" {
		return tags
	}
	return caption + "\n\n" + tags
}
