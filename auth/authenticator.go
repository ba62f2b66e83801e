package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/alwitt/cardvault/db"
	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/ratelimit"
	"github.com/alwitt/cardvault/secret"
	"github.com/alwitt/cardvault/session"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

// UnlockResult outcome of a successful unlock
type UnlockResult struct {
	// Session the unlocked session
	Session *Session
	// Sentence the decrypted validation sentence, shown back as an identity check
	Sentence string
}

/*
Authenticator passphrase enrollment and unlock state machine.

A user is authenticated by decrypting their validation record with the candidate
passphrase: a non-empty result is a success. Lockout and rate limit checks happen before
any decrypt, so a blocked attempt never counts as a failure.
*/
type Authenticator interface {
	/*
		State the authentication state of a user

			@param ctx context.Context - execution context
			@param userID string - the user
			@returns the current state
	*/
	State(ctx context.Context, userID string) (models.AuthStateENUMType, error)

	/*
		IsEnrolled whether the user has a validation record

			@param ctx context.Context - execution context
			@param userID string - the user
			@returns whether enrolled
	*/
	IsEnrolled(ctx context.Context, userID string) (bool, error)

	/*
		Enroll record the validation sentence of a new user, and open a session

			@param ctx context.Context - execution context
			@param userID string - the user
			@param sentence string - validation sentence
			@param passphrase string - the chosen passphrase
			@returns the unlocked session
	*/
	Enroll(ctx context.Context, userID string, sentence string, passphrase string) (*Session, error)

	/*
		Unlock authenticate a user with a candidate passphrase, and open a session

		Failures are reported as *models.AccountLockedError, *models.RateLimitedError, or
		models.ErrInvalidPassphrase.

			@param ctx context.Context - execution context
			@param userID string - the user
			@param passphrase string - candidate passphrase
			@returns the unlocked session and the validation sentence
	*/
	Unlock(ctx context.Context, userID string, passphrase string) (UnlockResult, error)

	/*
		VerifyPassphrase re-confirm the passphrase of a user without opening a session

		Failures count toward the lockout in the same way as Unlock.

			@param ctx context.Context - execution context
			@param userID string - the user
			@param passphrase string - candidate passphrase
	*/
	VerifyPassphrase(ctx context.Context, userID string, passphrase string) error

	/*
		Session the open session of a user

			@param userID string - the user
			@returns the session, models.ErrSessionLocked if there is none
	*/
	Session(userID string) (*Session, error)

	/*
		Lock end the session of a user, broadcasting the logout

			@param ctx context.Context - execution context
			@param userID string - the user
	*/
	Lock(ctx context.Context, userID string)
}

// AuthenticatorParams authenticator parameters
type AuthenticatorParams struct {
	// MinSentenceLength minimum number of visible characters in a validation sentence
	MinSentenceLength int `validate:"gte=1"`
	// MinAttemptInterval minimum time between two attempts of one user. 0 disables.
	MinAttemptInterval time.Duration `validate:"gte=0"`
	// InactivityTimeout session inactivity timeout
	InactivityTimeout time.Duration `validate:"gte=1ms"`
}

// DefaultAuthenticatorParams the default authenticator parameters
func DefaultAuthenticatorParams() AuthenticatorParams {
	return AuthenticatorParams{
		MinSentenceLength:  10,
		MinAttemptInterval: time.Second,
		InactivityTimeout:  session.DefaultInactivityTimeout,
	}
}

// authenticatorImpl implements Authenticator
type authenticatorImpl struct {
	goutils.Component
	persistence db.Client
	codec       encryption.Codec
	ledger      LockoutLedger
	limiter     ratelimit.Limiter
	secrets     *secret.Registry
	broadcaster session.Broadcaster
	params      AuthenticatorParams
	nowFn       func() time.Time

	// userLocks serializes the check, decrypt, record sequence of one user
	userLocks *userMutex

	lock       sync.Mutex
	sessions   map[string]*Session
	transients map[string]models.AuthStateENUMType
	intervals  map[string]*rate.Limiter
}

// AuthenticatorDependencies components the authenticator is built on
type AuthenticatorDependencies struct {
	Persistence db.Client
	Codec       encryption.Codec
	Ledger      LockoutLedger
	Limiter     ratelimit.Limiter
	Secrets     *secret.Registry
	Broadcaster session.Broadcaster
}

// validate every dependency is set
func (d AuthenticatorDependencies) validate() error {
	switch {
	case d.Persistence == nil:
		return fmt.Errorf("persistence client is missing")
	case d.Codec == nil:
		return fmt.Errorf("codec is missing")
	case d.Ledger == nil:
		return fmt.Errorf("lockout ledger is missing")
	case d.Limiter == nil:
		return fmt.Errorf("rate limiter is missing")
	case d.Secrets == nil:
		return fmt.Errorf("secret registry is missing")
	case d.Broadcaster == nil:
		return fmt.Errorf("session broadcaster is missing")
	}
	return nil
}

/*
NewAuthenticator define new authenticator

	@param deps AuthenticatorDependencies - the collaborating components
	@param params AuthenticatorParams - authenticator parameters
	@param nowFn func() time.Time - clock, nil for time.Now
	@returns authenticator instance
*/
func NewAuthenticator(
	deps AuthenticatorDependencies, params AuthenticatorParams, nowFn func() time.Time,
) (Authenticator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("missing authenticator dependencies [%w]", err)
	}
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid authenticator parameters [%w]", err)
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	logTags := log.Fields{"module": "auth", "component": "authenticator"}
	instance := &authenticatorImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: deps.Persistence,
		codec:       deps.Codec,
		ledger:      deps.Ledger,
		limiter:     deps.Limiter,
		secrets:     deps.Secrets,
		broadcaster: deps.Broadcaster,
		params:      params,
		nowFn:       nowFn,
		userLocks:   newUserMutex(),
		sessions:    make(map[string]*Session),
		transients:  make(map[string]models.AuthStateENUMType),
		intervals:   make(map[string]*rate.Limiter),
	}

	// Any session end event closes the session of that user
	deps.Broadcaster.Subscribe(instance.onSessionEnd)

	return instance, nil
}

// onSessionEnd session end event handler
func (a *authenticatorImpl) onSessionEnd(ctx context.Context, event session.Event) {
	// An event without a user ends every session
	ended := map[string]*Session{}
	a.lock.Lock()
	if event.UserID == "" {
		ended = a.sessions
		a.sessions = make(map[string]*Session)
	} else if current, ok := a.sessions[event.UserID]; ok {
		ended[event.UserID] = current
		delete(a.sessions, event.UserID)
	}
	a.lock.Unlock()

	logTags := a.GetLogTagsForContext(ctx)
	for userID, current := range ended {
		current.Close()
		log.WithFields(logTags).
			WithField("user", userID).
			WithField("event", string(event.Type)).
			Info("Session ended")
	}
}

// transition move the in-process state of a user. Caller holds the user lock.
func (a *authenticatorImpl) transition(
	userID string, current, next models.AuthStateENUMType,
) error {
	if err := models.ValidateAuthTransition(current, next); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	switch next {
	case models.AuthStateEnrolling, models.AuthStateUnlocking:
		a.transients[userID] = next
	default:
		delete(a.transients, userID)
	}
	return nil
}

// persistedState the state derived from the record store
func (a *authenticatorImpl) persistedState(
	ctx context.Context, userID string,
) (models.AuthStateENUMType, error) {
	enrolled, err := a.IsEnrolled(ctx, userID)
	if err != nil {
		return "", err
	}
	if !enrolled {
		return models.AuthStateUnenrolled, nil
	}
	return models.AuthStateLocked, nil
}

func (a *authenticatorImpl) State(
	ctx context.Context, userID string,
) (models.AuthStateENUMType, error) {
	a.lock.Lock()
	transient, inTransition := a.transients[userID]
	current, hasSession := a.sessions[userID]
	a.lock.Unlock()

	if inTransition {
		return transient, nil
	}
	if hasSession && current.Active() {
		return models.AuthStateUnlocked, nil
	}
	return a.persistedState(ctx, userID)
}

func (a *authenticatorImpl) IsEnrolled(ctx context.Context, userID string) (bool, error) {
	_, err := a.validationRecord(ctx, userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, models.ErrNotEnrolled) {
		return false, nil
	}
	return false, err
}

// validationRecord fetch the validation record, mapping a missing record to ErrNotEnrolled
func (a *authenticatorImpl) validationRecord(
	ctx context.Context, userID string,
) (models.ValidationRecord, error) {
	var record models.ValidationRecord
	if dbErr := a.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			record, err = dbClient.GetValidationRecord(dbCtx, userID)
			return err
		},
	); dbErr != nil {
		if errors.Is(dbErr, db.ErrRecordNotFound) {
			return models.ValidationRecord{}, models.ErrNotEnrolled
		}
		return models.ValidationRecord{}, storeError("failed to read validation record", dbErr)
	}
	return record, nil
}

// visibleLength count the non whitespace characters
func visibleLength(sentence string) int {
	count := 0
	for _, char := range sentence {
		if !unicode.IsSpace(char) && unicode.IsPrint(char) {
			count++
		}
	}
	return count
}

// openSession start a new session holding the passphrase. Caller holds the user lock.
func (a *authenticatorImpl) openSession(userID string, passphrase string) *Session {
	newSession := &Session{
		UserID:     userID,
		OpenedAt:   a.nowFn(),
		passphrase: a.secrets.CreateWithoutFailsafe([]byte(passphrase)),
		detector:   session.NewInactivityDetector(a.params.InactivityTimeout, a.broadcaster),
	}
	newSession.detector.Arm(userID)

	a.lock.Lock()
	previous, ok := a.sessions[userID]
	a.sessions[userID] = newSession
	a.lock.Unlock()
	if ok {
		previous.Close()
	}
	return newSession
}

func (a *authenticatorImpl) Enroll(
	ctx context.Context, userID string, sentence string, passphrase string,
) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if visibleLength(sentence) < a.params.MinSentenceLength {
		return nil, fmt.Errorf(
			"validation sentence needs at least %d visible characters", a.params.MinSentenceLength,
		)
	}
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("passphrase is required")
	}

	release := a.userLocks.Lock(userID)
	defer release()

	enrolled, err := a.IsEnrolled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, models.ErrAlreadyEnrolled
	}

	if err := a.transition(
		userID, models.AuthStateUnenrolled, models.AuthStateEnrolling,
	); err != nil {
		return nil, err
	}

	validationString, err := a.codec.Encrypt(ctx, sentence, passphrase)
	if err == nil {
		err = a.persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				_, err := dbClient.DefineValidationRecord(dbCtx, userID, validationString)
				return err
			},
		)
		if err != nil {
			err = storeError("failed to record validation sentence", err)
		}
	}
	if err != nil {
		_ = a.transition(userID, models.AuthStateEnrolling, models.AuthStateUnenrolled)
		return nil, fmt.Errorf("enrollment of %s failed [%w]", userID, err)
	}

	newSession := a.openSession(userID, passphrase)
	_ = a.transition(userID, models.AuthStateEnrolling, models.AuthStateUnlocked)

	logTags := a.GetLogTagsForContext(ctx)
	log.WithFields(logTags).WithField("user", userID).Info("User enrolled")
	return newSession, nil
}

// allowAttempt enforce the minimum interval between two attempts of a user
func (a *authenticatorImpl) allowAttempt(userID string) error {
	if a.params.MinAttemptInterval <= 0 {
		return nil
	}
	a.lock.Lock()
	limiter, ok := a.intervals[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(a.params.MinAttemptInterval), 1)
		a.intervals[userID] = limiter
	}
	a.lock.Unlock()

	now := a.nowFn()
	if limiter.AllowN(now, 1) {
		return nil
	}
	wait := limiter.TokensAt(now)
	retryAfter := time.Duration((1 - wait) * float64(a.params.MinAttemptInterval))
	return &models.RateLimitedError{Category: "attempt-interval", RetryAfter: retryAfter}
}

/*
attempt one gated passphrase check. Caller holds the user lock.

Gate order: lockout, attempt interval, call budget. Only then is the candidate decrypted,
and the outcome recorded in the ledger. An unreadable validation record is returned as
models.ErrMalformedField and is not counted as a failure.
*/
func (a *authenticatorImpl) attempt(
	ctx context.Context, userID string, passphrase string, action ratelimit.ActionCategory,
) (string, error) {
	logTags := a.GetLogTagsForContext(ctx)

	status, err := a.ledger.Check(ctx, userID, nil)
	if err != nil {
		return "", err
	}
	if status.Locked {
		return "", status.AsError()
	}
	if err := a.allowAttempt(userID); err != nil {
		return "", err
	}
	if err := a.limiter.Check(action, userID); err != nil {
		return "", err
	}

	record, err := a.validationRecord(ctx, userID)
	if err != nil {
		return "", err
	}

	// Any decrypt failure, or an empty result, is a failed attempt
	sentence, decryptErr := a.codec.Decrypt(ctx, record.ValidationString, passphrase)
	if decryptErr == nil && sentence != "" {
		if err := a.persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				if err := a.ledger.RecordSuccess(dbCtx, userID, dbClient); err != nil {
					return err
				}
				_, err := dbClient.RecordAuditEvent(
					dbCtx, userID, models.AuditEventTypeUnlockSucceeded, nil,
				)
				return err
			},
		); err != nil {
			return "", storeError("failed to record successful attempt", err)
		}
		return sentence, nil
	}
	if errors.Is(decryptErr, models.ErrMalformedField) {
		log.WithError(decryptErr).WithFields(logTags).WithField("user", userID).Error(
			"Validation record is unreadable",
		)
		return "", fmt.Errorf("validation record of %s is unreadable [%w]", userID, decryptErr)
	}
	if decryptErr != nil {
		log.WithError(decryptErr).WithFields(logTags).WithField("user", userID).Debug(
			"Validation record decrypt failed",
		)
	}

	status, err = a.ledger.RecordFailure(ctx, userID, nil)
	if err != nil {
		return "", err
	}
	if status.Locked {
		return "", status.AsError()
	}
	return "", models.ErrInvalidPassphrase
}

func (a *authenticatorImpl) Unlock(
	ctx context.Context, userID string, passphrase string,
) (UnlockResult, error) {
	release := a.userLocks.Lock(userID)
	defer release()

	current, err := a.State(ctx, userID)
	if err != nil {
		return UnlockResult{}, err
	}
	if current == models.AuthStateUnenrolled {
		return UnlockResult{}, models.ErrNotEnrolled
	}
	if err := a.transition(userID, current, models.AuthStateUnlocking); err != nil {
		return UnlockResult{}, err
	}

	sentence, err := a.attempt(ctx, userID, passphrase, ratelimit.ActionAuthAttempt)
	if err != nil {
		// An already open session survives a failed attempt
		a.lock.Lock()
		delete(a.transients, userID)
		a.lock.Unlock()
		return UnlockResult{}, err
	}

	newSession := a.openSession(userID, passphrase)
	_ = a.transition(userID, models.AuthStateUnlocking, models.AuthStateUnlocked)

	logTags := a.GetLogTagsForContext(ctx)
	log.WithFields(logTags).WithField("user", userID).Info("Session unlocked")
	return UnlockResult{Session: newSession, Sentence: sentence}, nil
}

func (a *authenticatorImpl) VerifyPassphrase(
	ctx context.Context, userID string, passphrase string,
) error {
	release := a.userLocks.Lock(userID)
	defer release()

	_, err := a.attempt(ctx, userID, passphrase, ratelimit.ActionPassphraseCheck)
	return err
}

func (a *authenticatorImpl) Session(userID string) (*Session, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	current, ok := a.sessions[userID]
	if !ok || !current.Active() {
		return nil, models.ErrSessionLocked
	}
	return current, nil
}

func (a *authenticatorImpl) Lock(ctx context.Context, userID string) {
	a.broadcaster.Broadcast(ctx, session.Event{Type: session.EventLogout, UserID: userID})
}
