package engine

// Observer receives cache events. pkg/metrics provides a Prometheus
// implementation.
type Observer interface {
	TemplateCacheHit(identifier string)
	TemplateCacheMiss(identifier string)
	InstanceBuilt(format string, override bool)
	Invalidated()
}

type nopObserver struct{}

func (nopObserver) TemplateCacheHit(string)    {}
func (nopObserver) TemplateCacheMiss(string)   {}
func (nopObserver) InstanceBuilt(string, bool) {}
func (nopObserver) Invalidated()               {}
