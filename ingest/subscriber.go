package ingest

// Subscriber handles event subscriptions.
type Subscriber struct {
	done                  chan struct{}
	runnerStartedHandler  func(RunnerStarted)
	tickCompletedHandler  func(TickCompleted)
	tickSkippedHandler    func(TickSkipped)
	tickFailedHandler     func(TickFailed)
	alertDroppedHandler   func(AlertDropped)
	runnerShutdownHandler func(RunnerShutdown)
}

// OnRunnerStarted sets the handler for RunnerStarted events
func OnRunnerStarted(fn func(RunnerStarted)) func(*Subscriber) {
	return func(s *Subscriber) { s.runnerStartedHandler = fn }
}

// OnTickCompleted sets the handler for TickCompleted events
func OnTickCompleted(fn func(TickCompleted)) func(*Subscriber) {
	return func(s *Subscriber) { s.tickCompletedHandler = fn }
}

// OnTickSkipped sets the handler for TickSkipped events
func OnTickSkipped(fn func(TickSkipped)) func(*Subscriber) {
	return func(s *Subscriber) { s.tickSkippedHandler = fn }
}

// OnTickFailed sets the handler for TickFailed events
func OnTickFailed(fn func(TickFailed)) func(*Subscriber) {
	return func(s *Subscriber) { s.tickFailedHandler = fn }
}

// OnAlertDropped sets the handler for AlertDropped events
func OnAlertDropped(fn func(AlertDropped)) func(*Subscriber) {
	return func(s *Subscriber) { s.alertDroppedHandler = fn }
}

// OnRunnerShutdown sets the handler for RunnerShutdown events
func OnRunnerShutdown(fn func(RunnerShutdown)) func(*Subscriber) {
	return func(s *Subscriber) { s.runnerShutdownHandler = fn }
}

// NewSubscriber creates a Subscriber with the given options and starts the
// dispatch loop. It returns a closer function that waits for all events to
// be processed; use defer closer() immediately to guarantee cleanup.
func NewSubscriber(events <-chan Event, opts ...func(*Subscriber)) func() {
	s := &Subscriber{
		done:                  make(chan struct{}),
		runnerStartedHandler:  func(RunnerStarted) {},  // nop by default
		tickCompletedHandler:  func(TickCompleted) {},  // nop by default
		tickSkippedHandler:    func(TickSkipped) {},    // nop by default
		tickFailedHandler:     func(TickFailed) {},     // nop by default
		alertDroppedHandler:   func(AlertDropped) {},   // nop by default
		runnerShutdownHandler: func(RunnerShutdown) {}, // nop by default
	}

	for _, opt := range opts {
		opt(s)
	}

	go func() {
		defer close(s.done)
		for ev := range events {
			switch e := ev.(type) {
			case RunnerStarted:
				s.runnerStartedHandler(e)
			case TickCompleted:
				s.tickCompletedHandler(e)
			case TickSkipped:
				s.tickSkippedHandler(e)
			case TickFailed:
				s.tickFailedHandler(e)
			case AlertDropped:
				s.alertDroppedHandler(e)
			case RunnerShutdown:
				s.runnerShutdownHandler(e)
			}
		}
	}()

	return func() {
		<-s.done
	}
}
