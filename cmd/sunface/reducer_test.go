package main

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

var testBase = time.Date(2024, 3, 10, 12, 0, 0, 500*int(time.Millisecond), time.UTC)

// reduceAt runs one event through the reducer stamped with the given time.
func reduceAt(t *testing.T, s *EngineState, ev Event, at time.Time) ReduceResult {
	t.Helper()
	return Reduce(s, TimedEvent{Event: ev, At: at}, DefaultCadence())
}

func commandNames(cmds []Command) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		switch c := c.(type) {
		case CmdRedraw:
			out = append(out, "redraw:"+c.Reason)
		case CmdArmTimer:
			out = append(out, "arm")
		case CmdCancelTimer:
			out = append(out, "cancel")
		case CmdSyncConnect:
			out = append(out, "connect")
		case CmdSyncDisconnect:
			out = append(out, "disconnect")
		default:
			out = append(out, c.String())
		}
	}
	return out
}

func expectCommands(t *testing.T, got []Command, want ...string) {
	t.Helper()
	names := commandNames(got)
	if len(names) != len(want) {
		t.Fatalf("commands = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("commands = %v, want %v", names, want)
		}
	}
}

func findArm(t *testing.T, cmds []Command) CmdArmTimer {
	t.Helper()
	for _, c := range cmds {
		if a, ok := c.(CmdArmTimer); ok {
			return a
		}
	}
	t.Fatalf("no CmdArmTimer in %v", commandNames(cmds))
	return CmdArmTimer{}
}

func TestNextDelay(t *testing.T) {
	sec := time.Second
	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		want     time.Duration
	}{
		{"mid second", time.UnixMilli(1500), sec, 500 * time.Millisecond},
		{"on boundary is a full interval", time.UnixMilli(2000), sec, sec},
		{"just after boundary", time.UnixMilli(2001), sec, 999 * time.Millisecond},
		{"muted minute", time.UnixMilli(61_000), time.Minute, 59 * time.Second},
		{"before epoch", time.UnixMilli(-1500), sec, 500 * time.Millisecond},
		{"before epoch on boundary", time.UnixMilli(-2000), sec, sec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextDelay(tt.now, tt.interval); got != tt.want {
				t.Fatalf("NextDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDelay_AlwaysWithinInterval(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		now := time.UnixMilli(r.Int63n(1<<42) - 1<<41)
		for _, iv := range []time.Duration{time.Second, time.Minute} {
			d := NextDelay(now, iv)
			if d <= 0 || d > iv {
				t.Fatalf("NextDelay(%v, %v) = %v out of (0, interval]", now, iv, d)
			}
			if now.Add(d).UnixMilli()%iv.Milliseconds() != 0 {
				t.Fatalf("NextDelay(%v, %v) = %v is not phase aligned", now, iv, d)
			}
		}
	}

	if d := NextDelay(time.Time{}, time.Second); d <= 0 || d > time.Second {
		t.Fatalf("zero time delay out of range: %v", d)
	}
}

func TestReducer_VisibleInteractiveArmsAndConnects(t *testing.T) {
	s := NewEngineState(time.UTC)

	rr := reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	expectCommands(t, rr.Commands, "connect", "arm", "redraw:armed")

	arm := findArm(t, rr.Commands)
	if arm.Delay != 500*time.Millisecond {
		t.Fatalf("arm delay = %v, want 500ms", arm.Delay)
	}
	if !rr.State.Timer.Armed || rr.State.Timer.Gen != arm.Gen {
		t.Fatalf("timer state = %+v, arm gen %d", rr.State.Timer, arm.Gen)
	}
	if !rr.State.Sync.Wanted {
		t.Fatalf("sync should be wanted while visible")
	}
	if !rr.State.ClockBase.Equal(testBase) {
		t.Fatalf("clock base = %v, want %v", rr.State.ClockBase, testBase)
	}
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected display broadcast, got %d broadcasts", len(rr.Broadcasts))
	}

	// Repeating the same visibility is a no-op.
	rr = reduceAt(t, rr.State, VisibilityChanged{Visible: true}, testBase.Add(time.Millisecond))
	expectCommands(t, rr.Commands)
}

func TestReducer_VisibleInAmbientDoesNotArm(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, AmbientModeChanged{Ambient: true}, testBase)

	rr := reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	expectCommands(t, rr.Commands, "connect")
	if rr.State.Timer.Armed {
		t.Fatalf("ambient face must not arm the timer")
	}
}

func TestReducer_AmbientRoundTrip(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	gen1 := s.Timer.Gen

	rr := reduceAt(t, s, AmbientModeChanged{Ambient: true}, testBase.Add(200*time.Millisecond))
	expectCommands(t, rr.Commands, "cancel", "redraw:mode")
	if s.Timer.Armed {
		t.Fatalf("timer must be disarmed in ambient")
	}

	// Host minute ticks still draw in ambient.
	rr = reduceAt(t, s, TimeTick{}, testBase.Add(time.Minute))
	expectCommands(t, rr.Commands, "redraw:tick")

	rr = reduceAt(t, s, AmbientModeChanged{Ambient: false}, testBase.Add(2*time.Minute))
	expectCommands(t, rr.Commands, "arm", "redraw:armed")
	if s.Timer.Gen <= gen1 {
		t.Fatalf("re-arm must use a new generation: %d <= %d", s.Timer.Gen, gen1)
	}
}

func TestReducer_HiddenCancelsAndDisconnects(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)

	rr := reduceAt(t, s, VisibilityChanged{Visible: false}, testBase.Add(time.Second))
	expectCommands(t, rr.Commands, "disconnect", "cancel")
	if s.Timer.Armed || s.Sync.Wanted || s.Sync.Connected {
		t.Fatalf("unexpected state after hide: timer=%+v sync=%+v", s.Timer, s.Sync)
	}

	// Ticks while hidden draw nothing.
	rr = reduceAt(t, s, TimeTick{}, testBase.Add(time.Minute))
	expectCommands(t, rr.Commands)
}

func TestReducer_MuteTogglesCadenceWithoutRedraw(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)

	at := testBase.Add(10 * time.Second)
	rr := reduceAt(t, s, InterruptionFilterChanged{Filter: FilterNone}, at)
	expectCommands(t, rr.Commands, "cancel", "arm")
	arm := findArm(t, rr.Commands)
	if want := NextDelay(at, time.Minute); arm.Delay != want {
		t.Fatalf("muted delay = %v, want %v", arm.Delay, want)
	}
	if !s.Muted || s.Timer.Interval != time.Minute {
		t.Fatalf("expected muted 60s cadence, got muted=%v interval=%v", s.Muted, s.Timer.Interval)
	}

	// Same mute state again: nothing to do.
	rr = reduceAt(t, s, InterruptionFilterChanged{Filter: FilterNone}, at.Add(time.Second))
	expectCommands(t, rr.Commands)

	// Priority is not a mute; cadence returns to 1s.
	rr = reduceAt(t, s, InterruptionFilterChanged{Filter: FilterPriority}, at.Add(2*time.Second))
	expectCommands(t, rr.Commands, "cancel", "arm")
	if s.Muted || s.Timer.Interval != time.Second {
		t.Fatalf("expected unmuted 1s cadence, got muted=%v interval=%v", s.Muted, s.Timer.Interval)
	}
}

func TestReducer_MuteWhileDisarmedOnlyRecords(t *testing.T) {
	s := NewEngineState(time.UTC)
	rr := reduceAt(t, s, InterruptionFilterChanged{Filter: FilterNone}, testBase)
	expectCommands(t, rr.Commands)
	if !s.Muted {
		t.Fatalf("mute should be recorded while hidden")
	}

	// Becoming visible arms with the muted cadence straight away.
	rr = reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	if arm := findArm(t, rr.Commands); arm.Delay != NextDelay(testBase, time.Minute) {
		t.Fatalf("arm delay = %v, want muted cadence", arm.Delay)
	}
}

func TestReducer_TimerFireRedrawsAndRearms(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	gen := s.Timer.Gen

	fireAt := testBase.Add(500 * time.Millisecond)
	rr := Reduce(s, TimerFired{Gen: gen, At: fireAt}, DefaultCadence())
	expectCommands(t, rr.Commands, "redraw:timer", "arm")
	arm := findArm(t, rr.Commands)
	if arm.Gen != gen+1 || arm.Delay != time.Second {
		t.Fatalf("re-arm = %+v, want gen %d delay 1s", arm, gen+1)
	}

	// The old generation fires late: ignored.
	rr = Reduce(s, TimerFired{Gen: gen, At: fireAt.Add(time.Millisecond)}, DefaultCadence())
	expectCommands(t, rr.Commands)
	if !s.Timer.Armed || s.Timer.Gen != gen+1 {
		t.Fatalf("stale fire disturbed timer: %+v", s.Timer)
	}
}

func TestReducer_FireAfterCancelIsNoop(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	gen := s.Timer.Gen
	reduceAt(t, s, AmbientModeChanged{Ambient: true}, testBase)

	rr := Reduce(s, TimerFired{Gen: gen, At: testBase.Add(time.Second)}, DefaultCadence())
	expectCommands(t, rr.Commands)
}

func TestReducer_WeatherBatchAppliedAtomically(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)

	high, low := "25°", "16°"
	sunny := IconClear
	rr := reduceAt(t, s, WeatherDocumentsReceived{Updates: []WeatherUpdate{
		{HighTemp: &high},
		{LowTemp: &low, Icon: &sunny},
	}}, testBase.Add(time.Second))

	expectCommands(t, rr.Commands, "redraw:data")
	want := WeatherSnapshot{HighTemp: "25°", HighTempKnown: true, LowTemp: "16°", LowTempKnown: true, Icon: IconClear}
	if s.Weather != want {
		t.Fatalf("weather = %+v, want %+v", s.Weather, want)
	}
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected one weather broadcast, got %d", len(rr.Broadcasts))
	}
	if _, ok := rr.Broadcasts[0].(BroadcastWeatherChanged); !ok {
		t.Fatalf("expected BroadcastWeatherChanged, got %T", rr.Broadcasts[0])
	}

	// Empty batch: nothing.
	rr = reduceAt(t, s, WeatherDocumentsReceived{}, testBase.Add(2*time.Second))
	expectCommands(t, rr.Commands)
}

func TestReducer_WeatherWhileDisarmedDoesNotDraw(t *testing.T) {
	s := NewEngineState(time.UTC)

	high := "30°"
	rr := reduceAt(t, s, WeatherDocumentsReceived{Updates: []WeatherUpdate{{HighTemp: &high}}}, testBase)
	expectCommands(t, rr.Commands)
	if s.Weather.HighTemp != "30°" {
		t.Fatalf("weather should still be stored while hidden: %+v", s.Weather)
	}

	// The first frame after becoming visible carries the stored weather.
	rr = reduceAt(t, s, VisibilityChanged{Visible: true}, testBase.Add(time.Second))
	expectCommands(t, rr.Commands, "connect", "arm", "redraw:armed")
	if face := BuildFaceState(s, testBase); face.Weather.HighTemp != "30°" {
		t.Fatalf("face weather = %+v", face.Weather)
	}
}

func TestReducer_TimeZoneChangeKeepsTimer(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	gen := s.Timer.Gen

	athens, err := time.LoadLocation("Europe/Athens")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	rr := reduceAt(t, s, TimeZoneChanged{Zone: "Europe/Athens", Location: athens}, testBase)
	expectCommands(t, rr.Commands)
	if s.Zone() != athens || s.Timer.Gen != gen {
		t.Fatalf("zone=%v gen=%d (was %d)", s.Zone(), s.Timer.Gen, gen)
	}
	if face := BuildFaceState(s, testBase); face.Time.Location() != athens {
		t.Fatalf("face time not converted: %v", face.Time.Location())
	}
}

func TestReducer_DevicePropertiesAndInsets(t *testing.T) {
	s := NewEngineState(nil)
	reduceAt(t, s, WindowInsetsApplied{Round: true}, testBase)
	reduceAt(t, s, PropertiesChanged{BurnInProtection: true, LowBitAmbient: true}, testBase)
	reduceAt(t, s, AmbientModeChanged{Ambient: true}, testBase)

	face := BuildFaceState(s, testBase)
	if !face.Round || !face.BurnInProtection || !face.LowBitAmbient {
		t.Fatalf("device flags not carried to face: %+v", face)
	}
	if face.AntiAlias() {
		t.Fatalf("low-bit ambient must disable anti-aliasing")
	}
}

func TestReducer_SyncConnectionTracking(t *testing.T) {
	s := NewEngineState(time.UTC)

	// A connection callback while nobody wants sync is ignored.
	reduceAt(t, s, SyncConnected{}, testBase)
	if s.Sync.Connected {
		t.Fatalf("late SyncConnected should be ignored while hidden")
	}

	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)
	reduceAt(t, s, SyncConnected{}, testBase.Add(time.Second))
	if !s.Sync.Connected {
		t.Fatalf("expected connected")
	}

	reduceAt(t, s, SyncConnectionLost{Err: errors.New("peer gone")}, testBase.Add(2*time.Second))
	if s.Sync.Connected || s.Sync.LastError != "peer gone" {
		t.Fatalf("unexpected sync state: %+v", s.Sync)
	}
	// Losing the link does not stop the clock.
	if !s.Timer.Armed {
		t.Fatalf("timer should stay armed across sync loss")
	}
}

func TestReducer_StateSnapshotRequest(t *testing.T) {
	s := NewEngineState(time.UTC)
	reduceAt(t, s, VisibilityChanged{Visible: true}, testBase)

	reply := make(chan StateSnapshot, 1)
	rr := Reduce(s, RequestStateSnapshot{Reply: reply}, DefaultCadence())
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %v", commandNames(rr.Commands))
	}
	pub, ok := rr.Commands[0].(CmdPublishStateSnapshot)
	if !ok {
		t.Fatalf("expected CmdPublishStateSnapshot, got %T", rr.Commands[0])
	}
	if pub.Snapshot.Visibility != Visible || !pub.Snapshot.Armed || pub.Snapshot.IntervalMS != 1000 {
		t.Fatalf("unexpected snapshot: %+v", pub.Snapshot)
	}
}

// TestReducer_RandomSequencesKeepOneTimer drives random event sequences and
// checks after every step that at most one timer is live, that it is live
// exactly when the face is visible and interactive, and that periodic
// redraws only happen while armed.
func TestReducer_RandomSequencesKeepOneTimer(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	filters := []InterruptionFilter{FilterAll, FilterPriority, FilterNone, FilterAlarms}

	for run := 0; run < 200; run++ {
		s := NewEngineState(time.UTC)
		now := testBase

		live := false
		var liveGen uint64

		for step := 0; step < 200; step++ {
			now = now.Add(time.Duration(r.Intn(3000)) * time.Millisecond)

			var ev Event
			switch r.Intn(8) {
			case 0:
				ev = VisibilityChanged{Visible: r.Intn(2) == 0}
			case 1:
				ev = AmbientModeChanged{Ambient: r.Intn(2) == 0}
			case 2:
				ev = InterruptionFilterChanged{Filter: filters[r.Intn(len(filters))]}
			case 3:
				ev = TimeTick{}
			case 4:
				high := "x"
				ev = WeatherDocumentsReceived{Updates: []WeatherUpdate{{HighTemp: &high}}}
			case 5:
				// Stale or fabricated generation.
				ev = TimerFired{Gen: uint64(r.Intn(5)), At: now}
			default:
				if live {
					ev = TimerFired{Gen: liveGen, At: now}
				} else {
					ev = TimeTick{}
				}
			}

			// The daemon releases the slot when the live generation fires.
			if tf, ok := ev.(TimerFired); ok && live && tf.Gen == liveGen {
				live = false
			}

			rr := Reduce(s, TimedEvent{Event: ev, At: now}, DefaultCadence())

			for _, c := range rr.Commands {
				switch c := c.(type) {
				case CmdCancelTimer:
					live = false
				case CmdArmTimer:
					if live {
						t.Fatalf("run %d step %d: armed a second timer (event %T)", run, step, ev)
					}
					if c.Delay <= 0 || c.Delay > time.Minute {
						t.Fatalf("run %d step %d: delay %v out of range", run, step, c.Delay)
					}
					live = true
					liveGen = c.Gen
				case CmdRedraw:
					if c.Reason == "timer" && !s.ShouldArm() {
						t.Fatalf("run %d step %d: timer redraw while disarmed", run, step)
					}
				}
			}
			if live != s.Timer.Armed {
				t.Fatalf("run %d step %d: live=%v but state armed=%v", run, step, live, s.Timer.Armed)
			}
			if s.Timer.Armed != s.ShouldArm() {
				t.Fatalf("run %d step %d: armed=%v but visible=%v mode=%v", run, step, s.Timer.Armed, s.Visibility, s.Mode)
			}
			if live && liveGen != s.Timer.Gen {
				t.Fatalf("run %d step %d: live gen %d != state gen %d", run, step, liveGen, s.Timer.Gen)
			}
		}
	}
}

func TestScenario_VisibleDataAmbientMuteInteractive(t *testing.T) {
	s := NewEngineState(time.UTC)
	now := testBase

	rr := reduceAt(t, s, VisibilityChanged{Visible: true}, now)
	expectCommands(t, rr.Commands, "connect", "arm", "redraw:armed")
	if arm := findArm(t, rr.Commands); arm.Delay != NextDelay(now, time.Second) || s.Timer.Interval != time.Second {
		t.Fatalf("arm = %+v interval %v", arm, s.Timer.Interval)
	}

	// Two separate documents, each carrying one key.
	for _, fields := range []map[string]any{{keyWeatherID: 500}, {keyHighTemp: "72"}} {
		u, errs := DecodeWeatherFields(fields)
		if len(errs) != 0 {
			t.Fatalf("decode %v: %v", fields, errs)
		}
		now = now.Add(100 * time.Millisecond)
		rr = reduceAt(t, s, WeatherDocumentsReceived{Updates: []WeatherUpdate{u}}, now)
		expectCommands(t, rr.Commands, "redraw:data")
	}

	face := BuildFaceState(s, now)
	if face.Weather.Icon != IconRain || face.Weather.HighTemp != "72" || face.Weather.LowTempKnown {
		t.Fatalf("face weather = %+v", face.Weather)
	}

	rr = reduceAt(t, s, AmbientModeChanged{Ambient: true}, now)
	expectCommands(t, rr.Commands, "cancel", "redraw:mode")

	rr = reduceAt(t, s, InterruptionFilterChanged{Filter: FilterNone}, now)
	expectCommands(t, rr.Commands)

	rr = reduceAt(t, s, AmbientModeChanged{Ambient: false}, now)
	expectCommands(t, rr.Commands, "arm", "redraw:armed")
	if s.Timer.Interval != time.Minute {
		t.Fatalf("interval = %v, want 60s", s.Timer.Interval)
	}
	if arm := findArm(t, rr.Commands); arm.Delay != NextDelay(now, time.Minute) {
		t.Fatalf("delay = %v", arm.Delay)
	}
}
