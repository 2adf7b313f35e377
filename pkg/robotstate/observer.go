package robotstate

// Sink is an output channel. *bus.Publisher satisfies it.
type Sink interface {
	Put(payload []byte) error
}

// Failure reasons reported to Observer.TransformFailure.
const (
	FailureCheck  = "check"
	FailureLookup = "lookup"
)

// Observer receives engine events, typically to feed metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	TickPublished(source Source)
	TickSkipped()
	InjectedRepublished()
	InjectedSuppressed()
	CommandForwarded()
	TransformFailure(reason string)
	DecodeError(topic string)
	PublishError(topic string)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) TickPublished(Source)    {}
func (NopObserver) TickSkipped()            {}
func (NopObserver) InjectedRepublished()    {}
func (NopObserver) InjectedSuppressed()     {}
func (NopObserver) CommandForwarded()       {}
func (NopObserver) TransformFailure(string) {}
func (NopObserver) DecodeError(string)      {}
func (NopObserver) PublishError(string)     {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}
