// Package conversation implements the onboarding state machine: one active
// step per user, input validation, and a single storage commit per
// transition.
package conversation

import (
	"context"
	"errors"
	"maps"
	"time"

	"go.uber.org/zap"

	"bazibot/internal/chart"
	"bazibot/internal/content"
	"bazibot/internal/metrics"
	"bazibot/internal/models"
	"bazibot/internal/storage"
)

// EventKind is the type of an inbound event
type EventKind string

const (
	KindCommand EventKind = "command"
	KindText    EventKind = "text"
	KindButton  EventKind = "button"
)

// CommandStart begins or restarts onboarding
const CommandStart = "start"

// Event is one inbound user action
type Event struct {
	// ID correlates log lines of one event
	ID          string
	UserID      int64
	ChatID      int64
	Kind        EventKind
	Payload     string
	Username    string
	DisplayName string
}

// Reply holds the messages to send for an event, in order
type Reply struct {
	Messages []models.Outbound
}

// Options configures an Engine
type Options struct {
	// SessionTTL expires sessions older than this; zero disables expiry
	SessionTTL time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Engine drives the conversation. It is safe for concurrent use; events of
// the same user are serialized.
type Engine struct {
	store    storage.Storage
	resolver chart.Resolver
	content  *content.Provider
	locks    *userLocks

	sessionTTL time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates an Engine
func New(store storage.Storage, resolver chart.Resolver, provider *content.Provider, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:      store,
		resolver:   resolver,
		content:    provider,
		locks:      newUserLocks(),
		sessionTTL: opts.SessionTTL,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
}

// promptKeys maps each awaiting step to its onboarding prompt
var promptKeys = map[models.Step]string{
	models.StepAwaitingConsent:         content.KeyGreeting,
	models.StepAwaitingName:            content.KeyAskName,
	models.StepAwaitingEmail:           content.KeyAskEmail,
	models.StepAwaitingPhone:           content.KeyAskPhone,
	models.StepAwaitingBirthDate:       content.KeyAskBirthDate,
	models.StepAwaitingBirthTimeChoice: content.KeyAskTimeChoice,
	models.StepAwaitingBirthTime:       content.KeyAskBirthTime,
	models.StepAwaitingBirthCity:       content.KeyAskBirthCity,
}

// errorKeys maps each awaiting step to its re-prompt
var errorKeys = map[models.Step]string{
	models.StepAwaitingConsent:         content.KeyInvalidConsent,
	models.StepAwaitingName:            content.KeyInvalidName,
	models.StepAwaitingEmail:           content.KeyInvalidEmail,
	models.StepAwaitingPhone:           content.KeyInvalidPhone,
	models.StepAwaitingBirthDate:       content.KeyInvalidBirthDate,
	models.StepAwaitingBirthTimeChoice: content.KeyInvalidTimeChoice,
	models.StepAwaitingBirthTime:       content.KeyInvalidBirthTime,
	models.StepAwaitingBirthCity:       content.KeyInvalidBirthCity,
}

// Handle processes one event and returns the reply to send. The reply is
// populated for every outcome, including errors.
func (e *Engine) Handle(ctx context.Context, ev Event) (Reply, error) {
	e.metrics.Event(string(ev.Kind))

	lock := e.locks.acquire(ev.UserID)
	defer lock.release()

	switch ev.Kind {
	case KindCommand:
		return e.handleCommand(ctx, ev)
	case KindButton:
		return e.handleButton(ctx, ev)
	case KindText:
		return e.handleText(ctx, ev, lock)
	}
	return e.renderNode(ctx, ev, content.KeyIdleHint)
}

func (e *Engine) handleCommand(ctx context.Context, ev Event) (Reply, error) {
	if ev.Payload == CommandStart {
		return e.start(ctx, ev)
	}
	key, ok := e.content.CommandNode(ev.Payload)
	if !ok {
		key = content.KeyIdleHint
	}
	return e.renderNode(ctx, ev, key)
}

func (e *Engine) handleButton(ctx context.Context, ev Event) (Reply, error) {
	if key, ok := models.ParseNodeCallback(ev.Payload); ok {
		return e.renderNode(ctx, ev, key)
	}

	switch ev.Payload {
	case models.CallbackRestart:
		return e.start(ctx, ev)
	case models.CallbackConsent:
		return e.consent(ctx, ev)
	case models.CallbackTimeKnown, models.CallbackTimeUnknown:
		return e.timeChoice(ctx, ev)
	}

	e.logger.Debug("Unknown callback", zap.String("event_id", ev.ID), zap.String("data", ev.Payload))
	return e.render(content.Errors, content.KeyUnknownNode, content.Data{})
}

// start resets the user to AwaitingConsent from any state
func (e *Engine) start(ctx context.Context, ev Event) (Reply, error) {
	prev, err := e.loadSession(ctx, ev.UserID)
	if err != nil {
		return e.storageFailed(ev, "load session", err)
	}

	change := models.Change{
		Profile: &models.ProfileUpdate{
			Username:    models.Ptr(ev.Username),
			DisplayName: models.Ptr(ev.DisplayName),
		},
		Session: &models.SessionWrite{Step: models.StepAwaitingConsent, Data: map[string]string{}},
	}
	if err := e.store.Commit(ctx, ev.UserID, change); err != nil {
		return e.storageFailed(ev, "commit start", err)
	}
	e.transition(ev, stepOf(prev), models.StepAwaitingConsent)

	return e.render(content.Onboarding, content.KeyGreeting, content.NewData(ev.DisplayName, nil, nil))
}

func (e *Engine) consent(ctx context.Context, ev Event) (Reply, error) {
	session, err := e.loadSession(ctx, ev.UserID)
	if err != nil {
		return e.storageFailed(ev, "load session", err)
	}
	if session != nil && session.Step != models.StepAwaitingConsent {
		return e.reprompt(ev, session, errUnexpectedIn)
	}

	data := map[string]string{}
	if session != nil {
		data = session.Data
	}
	if err := e.saveStep(ctx, ev, stepOf(session), models.StepAwaitingName, data, nil); err != nil {
		return e.storageFailed(ev, "save session", err)
	}

	reply, err := e.render(content.Onboarding, content.KeyExplanation, content.Data{})
	if err != nil {
		return reply, err
	}
	return e.appendRender(reply, content.Onboarding, content.KeyAskName, content.Data{})
}

func (e *Engine) timeChoice(ctx context.Context, ev Event) (Reply, error) {
	session, err := e.loadSession(ctx, ev.UserID)
	if err != nil {
		return e.storageFailed(ev, "load session", err)
	}
	if session == nil {
		return e.renderNode(ctx, ev, content.KeyIdleHint)
	}
	if session.Step != models.StepAwaitingBirthTimeChoice {
		return e.reprompt(ev, session, errUnexpectedIn)
	}

	data := models.CloneData(session.Data)
	next, prompt := models.StepAwaitingBirthTime, content.KeyAskBirthTime
	if ev.Payload == models.CallbackTimeUnknown {
		data[models.FieldBirthTime] = UnknownBirthTime
		next, prompt = models.StepAwaitingBirthCity, content.KeyAskBirthCity
	}
	if err := e.saveStep(ctx, ev, session.Step, next, data, nil); err != nil {
		return e.storageFailed(ev, "save session", err)
	}
	return e.render(content.Onboarding, prompt, dataFor(data))
}

func (e *Engine) handleText(ctx context.Context, ev Event, lock *heldLock) (Reply, error) {
	session, err := e.loadSession(ctx, ev.UserID)
	if err != nil {
		return e.storageFailed(ev, "load session", err)
	}
	if session == nil {
		return e.renderNode(ctx, ev, content.KeyIdleHint)
	}

	data := session.Data
	var (
		next    models.Step
		field   string
		value   string
		profile *models.ProfileUpdate
	)

	switch session.Step {
	case models.StepAwaitingName:
		value, err = ValidateName(ev.Payload)
		field, next = models.FieldContactName, models.StepAwaitingEmail
	case models.StepAwaitingEmail:
		value, err = ValidateEmail(ev.Payload)
		field, next = models.FieldContactEmail, models.StepAwaitingPhone
	case models.StepAwaitingPhone:
		value, err = ValidatePhone(ev.Payload)
		field, next = models.FieldContactPhone, models.StepAwaitingBirthDate
		profile = &models.ProfileUpdate{
			ContactName:  models.Ptr(data[models.FieldContactName]),
			ContactEmail: models.Ptr(data[models.FieldContactEmail]),
			ContactPhone: models.Ptr(value),
		}
	case models.StepAwaitingBirthDate:
		value, err = ValidateBirthDate(ev.Payload)
		field, next = models.FieldBirthDate, models.StepAwaitingBirthTimeChoice
	case models.StepAwaitingBirthTime:
		value, err = ValidateBirthTime(ev.Payload)
		field, next = models.FieldBirthTime, models.StepAwaitingBirthCity
	case models.StepAwaitingBirthCity:
		value, err = ValidateCity(ev.Payload)
		if err != nil {
			return e.reprompt(ev, session, err)
		}
		return e.compute(ctx, ev, lock, session, value)
	default:
		// consent and time choice only accept buttons
		return e.reprompt(ev, session, errUnexpectedIn)
	}

	if err != nil {
		return e.reprompt(ev, session, err)
	}
	data = models.CloneData(data)
	data[field] = value
	if err := e.saveStep(ctx, ev, session.Step, next, data, profile); err != nil {
		return e.storageFailed(ev, "commit step", err)
	}
	return e.render(content.Onboarding, promptKeys[next], dataFor(data))
}

// compute resolves the chart with the user lock released, then commits only
// if the session did not change meanwhile.
func (e *Engine) compute(ctx context.Context, ev Event, lock *heldLock, session *models.Session, city string) (Reply, error) {
	snapshot := models.CloneData(session.Data)
	birthDate := snapshot[models.FieldBirthDate]
	birthTime := snapshot[models.FieldBirthTime]

	lock.release()
	result := e.resolver.Resolve(ctx, birthDate, birthTime, city)
	lock.reacquire()

	current, err := e.loadSession(ctx, ev.UserID)
	if err != nil {
		return e.storageFailed(ev, "load session", err)
	}
	if current == nil || current.Step != models.StepAwaitingBirthCity || !maps.Equal(current.Data, snapshot) {
		e.logger.Info("Session changed during chart lookup, dropping result",
			zap.String("event_id", ev.ID),
			zap.Int64("user_id", ev.UserID))
		return Reply{}, ErrStaleResult
	}

	change := models.Change{
		Profile: &models.ProfileUpdate{
			BirthDate: models.Ptr(birthDate),
			BirthTime: models.Ptr(birthTime),
			BirthCity: models.Ptr(city),
			Chart:     &result,
		},
		ClearSession: true,
	}
	if err := e.store.Commit(ctx, ev.UserID, change); err != nil {
		return e.storageFailed(ev, "commit chart", err)
	}
	e.transition(ev, models.StepAwaitingBirthCity, models.StepIdle)
	e.logger.Info("Chart computed",
		zap.String("event_id", ev.ID),
		zap.Int64("user_id", ev.UserID),
		zap.String("element", string(result.Element)),
		zap.String("polarity", string(result.Polarity)),
		zap.String("source", string(result.Source)))

	data := content.NewData(snapshot[models.FieldContactName], nil, &result)
	reply, err := e.render(content.Onboarding, content.KeyProcessing, data)
	if err != nil {
		return reply, err
	}
	return e.appendRender(reply, content.Tree, content.KeyResultStart, data)
}

// renderNode renders a tree node without touching the session
func (e *Engine) renderNode(ctx context.Context, ev Event, key string) (Reply, error) {
	if !e.content.Has(content.Tree, key) {
		e.logger.Debug("Unknown node", zap.String("event_id", ev.ID), zap.String("node", key))
		return e.render(content.Errors, content.KeyUnknownNode, content.Data{})
	}

	profile, err := e.store.GetProfile(ctx, ev.UserID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		profile = nil
	case err != nil:
		if e.content.RequiresChart(key) {
			return e.storageFailed(ev, "get profile", err)
		}
		e.metrics.StorageError("get profile")
		e.logger.Warn("Profile unavailable, rendering without it",
			zap.String("event_id", ev.ID), zap.Error(err))
		profile = nil
	}

	var result *models.ChartResult
	if profile != nil {
		result = profile.Chart
	}
	if e.content.RequiresChart(key) && result == nil {
		e.logger.Info("Node needs a chart the user does not have",
			zap.String("event_id", ev.ID),
			zap.Int64("user_id", ev.UserID),
			zap.String("node", key))
		reply, rerr := e.render(content.Tree, content.KeyRestartRequired, content.NewData(ev.DisplayName, profile, nil))
		if rerr != nil {
			return reply, rerr
		}
		return reply, ErrMissingChartResult
	}

	name := ev.DisplayName
	if profile != nil && profile.ContactName != "" {
		name = profile.ContactName
	}
	return e.render(content.Tree, key, content.NewData(name, profile, result))
}

// reprompt answers rejected input without changing the session
func (e *Engine) reprompt(ev Event, session *models.Session, reason error) (Reply, error) {
	e.metrics.ValidationFailure(string(session.Step))
	e.logger.Debug("Input rejected",
		zap.String("event_id", ev.ID),
		zap.Int64("user_id", ev.UserID),
		zap.String("step", string(session.Step)),
		zap.Error(reason))

	key := errorKeys[session.Step]
	section := content.Errors
	if errors.Is(reason, errUnexpectedIn) && session.Step != models.StepAwaitingConsent &&
		session.Step != models.StepAwaitingBirthTimeChoice {
		section, key = content.Onboarding, promptKeys[session.Step]
	}
	reply, err := e.render(section, key, dataFor(session.Data))
	if err != nil {
		return reply, err
	}
	return reply, &ValidationError{Step: session.Step, Reason: reason}
}

func (e *Engine) saveStep(ctx context.Context, ev Event, from, to models.Step, data map[string]string, profile *models.ProfileUpdate) error {
	change := models.Change{
		Profile: profile,
		Session: &models.SessionWrite{Step: to, Data: data},
	}
	if err := e.store.Commit(ctx, ev.UserID, change); err != nil {
		return err
	}
	e.transition(ev, from, to)
	return nil
}

// loadSession returns nil for an absent, expired or corrupt session
func (e *Engine) loadSession(ctx context.Context, userID int64) (*models.Session, error) {
	session, err := e.store.LoadSession(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	expired := e.sessionTTL > 0 && e.now().Sub(session.UpdatedAt) > e.sessionTTL
	if expired || !session.Step.Valid() {
		e.logger.Info("Discarding session",
			zap.Int64("user_id", userID),
			zap.String("step", string(session.Step)),
			zap.Bool("expired", expired))
		if err := e.store.ClearSession(ctx, userID); err != nil {
			e.metrics.StorageError("clear session")
			e.logger.Warn("Failed to clear session", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil, nil
	}
	if session.Data == nil {
		session.Data = map[string]string{}
	}
	return session, nil
}

func (e *Engine) storageFailed(ev Event, op string, err error) (Reply, error) {
	e.metrics.StorageError(op)
	e.logger.Error("Storage operation failed",
		zap.String("event_id", ev.ID),
		zap.Int64("user_id", ev.UserID),
		zap.String("op", op),
		zap.Error(err))
	reply, _ := e.render(content.Errors, content.KeyGenericFailure, content.Data{})
	return reply, storageFailure(op, err)
}

func (e *Engine) transition(ev Event, from, to models.Step) {
	e.metrics.Transition(string(from), string(to))
	e.logger.Debug("Step transition",
		zap.String("event_id", ev.ID),
		zap.Int64("user_id", ev.UserID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (e *Engine) render(section content.Section, key string, data content.Data) (Reply, error) {
	return e.appendRender(Reply{}, section, key, data)
}

func (e *Engine) appendRender(reply Reply, section content.Section, key string, data content.Data) (Reply, error) {
	msgs, err := e.content.Render(section, key, data)
	if err != nil {
		e.logger.Error("Failed to render content", zap.String("section", string(section)), zap.String("key", key), zap.Error(err))
		return reply, err
	}
	reply.Messages = append(reply.Messages, msgs...)
	return reply, nil
}

func stepOf(s *models.Session) models.Step {
	if s == nil {
		return models.StepIdle
	}
	return s.Step
}

func dataFor(data map[string]string) content.Data {
	return content.NewData(data[models.FieldContactName], nil, nil)
}
