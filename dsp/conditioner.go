package dsp

// ConditionSettings controls the display conditioning of one channel.
type ConditionSettings struct {
	ACCoupling       bool
	AverageDepth     int
	PeakHold         bool
	PersistenceDepth int
}

// Conditioned is the result of conditioning one frame.
type Conditioned struct {
	Samples []float64
	PeakMax []float64
	PeakMin []float64
	History [][]float64
}

// Conditioner applies AC coupling, averaging, peak hold and persistence to the frames of one channel.
// Each channel needs its own Conditioner, the state is not shared.
type Conditioner struct {
	averager    *Averager
	peakHold    *PeakHold
	persistence *Persistence
}

func NewConditioner() *Conditioner {
	return &Conditioner{
		averager:    NewAverager(1),
		peakHold:    new(PeakHold),
		persistence: NewPersistence(0),
	}
}

// Reset all accumulated state.
func (c *Conditioner) Reset() {
	c.averager.Reset()
	c.peakHold.Reset()
	c.persistence.Reset()
}

// Condition the given frame.
func (c *Conditioner) Condition(frame []float64, settings ConditionSettings) Conditioned {
	samples := ACCouple(frame, settings.ACCoupling)

	c.averager.SetDepth(settings.AverageDepth)
	samples = c.averager.Put(samples)

	var result Conditioned
	result.Samples = samples

	if settings.PeakHold {
		c.peakHold.Put(samples)
		result.PeakMax = c.peakHold.Max()
		result.PeakMin = c.peakHold.Min()
	} else {
		c.peakHold.Reset()
	}

	c.persistence.SetDepth(settings.PersistenceDepth)
	if settings.PersistenceDepth > 0 {
		c.persistence.Put(samples)
		result.History = c.persistence.Frames()
	}

	return result
}
