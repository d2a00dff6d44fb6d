package eventbus

// Publisher is the publishing half of a bus.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// Subscriber is the subscribing half of a bus.
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(topic string, args ...interface{})

func (f PublisherFunc) Publish(topic string, args ...interface{}) { f(topic, args...) }

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(string, ...interface{}) {})
