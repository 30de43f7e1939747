// Package scheduledevents runs persistent timers backed by postgres, with the
// near-future window mirrored into a redis sorted set so restarts never lose a
// pending event and the hot path never scans the full table.
package scheduledevents

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/mediocregopher/radix/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/volatiletech/null/v8"

	"github.com/warden-bot/warden/common"
)

var logger = common.GetPluginLogger("scheduled_events")

// soonKey is the redis sorted set holding "id:guildID" members scored by
// trigger time for events due within the next flushWindow.
const soonKey = "scheduled_events_soon"

const flushWindow = time.Hour

// ScheduledEvent is a single row in the scheduled_events table.
type ScheduledEvent struct {
	ID           int64          `db:"id"`
	CreatedAt    time.Time      `db:"created_at"`
	TriggersAt   time.Time      `db:"triggers_at"`
	RetryOnError bool           `db:"retry_on_error"`
	GuildID      int64          `db:"guild_id"`
	EventName    string         `db:"event_name"`
	Data         types.JSONText `db:"data"`
	Processed    bool           `db:"processed"`
	Error        null.String    `db:"error"`
}

// HandlerFunc processes a due event. Returning retry=true re-runs the handler
// with a doubling delay; the event is never discarded on its own.
type HandlerFunc func(evt *ScheduledEvent, data interface{}) (retry bool, err error)

type RegisteredHandler struct {
	EvtName    string
	DataFormat interface{}
	Handler    HandlerFunc
}

// Scheduler drives the check and flush loops. Construct with NewScheduler,
// register handlers, then call Run.
type Scheduler struct {
	db    *sqlx.DB
	redis *radix.Pool

	handlers map[string]*RegisteredHandler
	running  bool

	stop chan *sync.WaitGroup

	currentlyProcessingMU sync.Mutex
	currentlyProcessing   map[int64]bool
}

func NewScheduler(db *sqlx.DB, redis *radix.Pool) *Scheduler {
	return &Scheduler{
		db:                  db,
		redis:               redis,
		handlers:            make(map[string]*RegisteredHandler),
		stop:                make(chan *sync.WaitGroup),
		currentlyProcessing: make(map[int64]bool),
	}
}

// RegisterHandler registers a handler for the specified event name.
// dataFormat is optional and should not be a pointer, it should match the type
// you're passing into ScheduleEvent.
func (se *Scheduler) RegisterHandler(eventName string, dataFormat interface{}, handler HandlerFunc) {
	if se.running {
		panic("tried adding scheduled event handler while running")
	}

	se.handlers[eventName] = &RegisteredHandler{
		EvtName:    eventName,
		DataFormat: dataFormat,
		Handler:    handler,
	}

	logger.Debug("registered handler for ", eventName)
}

// ScheduleEvent persists an event and, if it's due within the flush window,
// mirrors it into the redis soon set immediately.
func (se *Scheduler) ScheduleEvent(evtName string, guildID int64, runAt time.Time, data interface{}) error {
	raw := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errors.WithMessage(err, "marshal")
		}
		raw = b
	}

	const q = `INSERT INTO scheduled_events (created_at, triggers_at, retry_on_error, guild_id, event_name, data, processed)
VALUES (now(), $1, false, $2, $3, $4, false) RETURNING id`

	var id int64
	err := se.db.QueryRow(q, runAt, guildID, evtName, raw).Scan(&id)
	if err != nil {
		return errors.WithMessage(err, "insert")
	}

	if time.Now().Add(flushWindow).After(runAt) {
		err = se.flushEvent(id, guildID, runAt)
	}

	return errors.WithStackIf(err)
}

// CancelUserEvents deletes all unprocessed events of the given name for a
// guild-user pair, using the user_id key inside the event data. The matching
// soon set members are removed as well so the check loop never sees them.
func (se *Scheduler) CancelUserEvents(evtName string, guildID, userID int64) error {
	const q = `DELETE FROM scheduled_events
WHERE event_name=$1 AND guild_id=$2 AND (data->>'user_id')::bigint = $3 AND processed=false
RETURNING id`

	rows, err := se.db.Query(q, evtName, guildID, userID)
	if err != nil {
		return errors.WithStackIf(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return errors.WithStackIf(err)
		}

		err = se.redis.Do(radix.Cmd(nil, "ZREM", soonKey, fmt.Sprintf("%d:%d", id, guildID)))
		if err != nil {
			return errors.WithStackIf(err)
		}
	}

	return errors.WithStackIf(rows.Err())
}

func (se *Scheduler) flushEvent(id int64, guildID int64, triggersAt time.Time) error {
	member := fmt.Sprintf("%d:%d", id, guildID)
	err := se.redis.Do(radix.FlatCmd(nil, "ZADD", soonKey, triggersAt.UTC().Unix(), member))
	return errors.WithStackIf(err)
}

// flushSoonEvents mirrors every unprocessed event due within the flush window
// into the soon set. ZADD is idempotent so re-flushing already mirrored rows
// is harmless, which also makes this the restart recovery path.
func (se *Scheduler) flushSoonEvents() error {
	const q = `SELECT id, guild_id, triggers_at FROM scheduled_events WHERE processed=false AND triggers_at < $1`

	rows, err := se.db.Query(q, time.Now().Add(flushWindow))
	if err != nil {
		return errors.WithStackIf(err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id, guildID int64
		var triggersAt time.Time
		if err := rows.Scan(&id, &guildID, &triggersAt); err != nil {
			return errors.WithStackIf(err)
		}

		if err := se.flushEvent(id, guildID, triggersAt); err != nil {
			return err
		}
		n++
	}

	if n > 0 {
		logger.Info("flushed ", n, " upcoming scheduled events to redis")
	}

	return errors.WithStackIf(rows.Err())
}

// Run starts the check and maintenance loops. Call Stop to shut down.
func (se *Scheduler) Run() {
	se.running = true

	// restart recovery: anything that came due while we were down gets
	// mirrored back into the soon set before the first check
	if err := se.flushSoonEvents(); err != nil {
		logger.WithError(err).Error("failed flushing scheduled events on startup")
	}

	go se.runMaintenanceLoop()
	se.runCheckLoop()
}

func (se *Scheduler) Stop(wg *sync.WaitGroup) {
	se.stop <- wg
}

func (se *Scheduler) runCheckLoop() {
	t := time.NewTicker(time.Second)
	for {
		select {
		case wg := <-se.stop:
			wg.Done()
			return
		case <-t.C:
			se.check()
		}
	}
}

// runMaintenanceLoop periodically re-flushes the upcoming window and cleans
// out processed rows.
func (se *Scheduler) runMaintenanceLoop() {
	flushTicker := time.NewTicker(time.Minute)
	cleanupTicker := time.NewTicker(time.Hour)
	for {
		select {
		case <-flushTicker.C:
			if err := se.flushSoonEvents(); err != nil {
				logger.WithError(err).Error("failed flushing scheduled events")
			}
		case <-cleanupTicker.C:
			res, err := se.db.Exec("DELETE FROM scheduled_events WHERE processed=true")
			if err != nil {
				logger.WithError(err).Error("error running scheduled events cleanup")
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				logger.Info("cleaned up ", n, " processed scheduled events")
			}
		}
	}
}

var metricsScheduledEventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_scheduledevents_processed_total",
	Help: "Total scheduled events processed",
})

var metricsScheduledEventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_scheduledevents_skipped_total",
	Help: "Total scheduled events skipped",
})

func (se *Scheduler) check() {
	se.currentlyProcessingMU.Lock()
	defer se.currentlyProcessingMU.Unlock()

	var pairs []string
	err := se.redis.Do(radix.FlatCmd(&pairs, "ZRANGEBYSCORE", soonKey, 0, time.Now().UTC().Unix()))
	if err != nil {
		logger.WithError(err).Error("failed checking for scheduled events to process")
		return
	}

	numSkipped := 0
	numHandling := 0
	for _, pair := range pairs {
		id, guildID, err := parseIDGuildIDPair(pair)
		if err != nil {
			logger.WithError(err).Error("failed parsing id guildId pair")
			continue
		}

		if se.currentlyProcessing[id] {
			numSkipped++
			continue
		}

		numHandling++
		se.currentlyProcessing[id] = true
		go se.processItem(id, guildID)
	}

	metricsScheduledEventsProcessed.Add(float64(numHandling))
	metricsScheduledEventsSkipped.Add(float64(numSkipped))

	if numHandling > 0 {
		logger.Info("triggered ", numHandling, " scheduled events (skipped ", numSkipped, ")")
	}
}

var ErrBadPairLength = errors.Sentinel("ID - GuildID pair corrupted")

func parseIDGuildIDPair(pair string) (id int64, guildID int64, err error) {
	split := strings.Split(pair, ":")
	if len(split) < 2 {
		err = ErrBadPairLength
		return
	}

	id, err = strconv.ParseInt(split[0], 10, 64)
	if err != nil {
		return
	}

	guildID, err = strconv.ParseInt(split[1], 10, 64)
	return
}

func (se *Scheduler) processItem(id int64, guildID int64) {
	l := logger.WithField("id", id).WithField("guild", guildID)

	defer func() {
		se.currentlyProcessingMU.Lock()
		defer se.currentlyProcessingMU.Unlock()

		delete(se.currentlyProcessing, id)
	}()

	item := &ScheduledEvent{}
	err := se.db.Get(item, "SELECT * FROM scheduled_events WHERE id=$1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			// cancelled between flush and trigger
			se.removeFromSoonSet(id, guildID)
		} else {
			l.WithError(err).Error("failed finding scheduled event")
		}
		return
	}

	if item.Processed {
		se.removeFromSoonSet(id, guildID)
		return
	}

	// the trigger time may have been pushed back after the event was
	// flushed, re-arm it instead of firing early
	if time.Until(item.TriggersAt) > time.Second*5 {
		if err := se.flushEvent(item.ID, item.GuildID, item.TriggersAt); err != nil {
			l.WithError(err).Error("failed re-flushing changed event")
		}
		return
	}

	handler, ok := se.handlers[item.EventName]
	if !ok {
		l.Error("unknown scheduled event: ", item.EventName)
		se.markDone(item, errors.Sentinel("no registered handler"))
		return
	}

	var decodedData interface{}
	if handler.DataFormat != nil {
		typ := reflect.TypeOf(handler.DataFormat)

		decodedData = reflect.New(typ).Interface()
		err := json.Unmarshal(item.Data, decodedData)
		if err != nil {
			l.WithError(err).Error("failed decoding event data")
			se.markDone(item, errors.WithMessage(err, "json"))
			return
		}
	}

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			l.Errorf("recovered from panic in scheduled event handler \n%v\n%v", r, stack)
		}
	}()

	retry := false
	retryDelay := time.Second
	for nRetry := 0; nRetry < 10; nRetry++ {
		retry, err = handler.Handler(item, decodedData)
		if err != nil {
			l.WithError(err).Error("scheduled event handler returned an error")
		}

		if retry {
			l.WithError(err).Warn("retrying handling scheduled event")
			time.Sleep(retryDelay)
			retryDelay *= 2
			if retryDelay > time.Second*10 {
				retryDelay = time.Second * 10
			}
			continue
		}

		break
	}

	if retry {
		// still failing transiently after exhausting the retries, push
		// the event back instead of dropping it
		se.reArm(item, err)
		return
	}

	se.markDone(item, err)
}

const reArmDelay = time.Minute * 5

func (se *Scheduler) reArm(item *ScheduledEvent, runErr error) {
	l := logger.WithField("id", item.ID).WithField("guild", item.GuildID)
	l.WithError(runErr).Warn("re-arming scheduled event after exhausted retries")

	newTime := time.Now().Add(reArmDelay)
	_, err := se.db.Exec("UPDATE scheduled_events SET triggers_at=$2 WHERE id=$1", item.ID, newTime)
	if err != nil {
		l.WithError(err).Error("failed re-arming scheduled event")
		return
	}

	if err := se.flushEvent(item.ID, item.GuildID, newTime); err != nil {
		l.WithError(err).Error("failed flushing re-armed scheduled event")
	}
}

func (se *Scheduler) markDone(item *ScheduledEvent, runErr error) {
	var updateErr null.String
	if runErr != nil {
		updateErr = null.StringFrom(runErr.Error())
	}

	const q = "UPDATE scheduled_events SET processed=true, error=$2 WHERE id=$1"
	_, err := se.db.Exec(q, item.ID, updateErr)
	if err != nil {
		logger.WithError(err).Error("failed marking scheduled event as processed")
	}

	se.removeFromSoonSet(item.ID, item.GuildID)
}

func (se *Scheduler) removeFromSoonSet(id int64, guildID int64) {
	err := se.redis.Do(radix.Cmd(nil, "ZREM", soonKey, fmt.Sprintf("%d:%d", id, guildID)))
	if err != nil {
		logger.WithError(err).Error("failed removing scheduled event from redis")
	}
}
