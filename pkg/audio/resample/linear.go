// ABOUTME: Streaming linear resampler for converting audio sample rates
// ABOUTME: Carries the last input frame across chunks so boundaries stay continuous
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64   // read position relative to lastSample
	lastSample []float64 // one sample per channel, valid when primed
	primed     bool
	pending    []int32 // output produced by Resample that did not fit
}

// New creates a new linear resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastSample: make([]float64, channels),
	}
}

// Process resamples interleaved input and returns interleaved output.
// Output for the tail of the input is produced by the next call or by Flush.
func (r *Resampler) Process(input []float64) ([]float64, error) {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return nil, nil
	}

	// Frame i of the working sequence is lastSample for i == 0 when primed,
	// otherwise input frames shifted by one.
	frame := func(i int, ch int) float64 {
		if r.primed {
			if i == 0 {
				return r.lastSample[ch]
			}
			return input[(i-1)*r.channels+ch]
		}
		return input[i*r.channels+ch]
	}
	total := inputFrames
	if r.primed {
		total++
	}

	out := make([]float64, 0, int(float64(inputFrames)/r.ratio+2)*r.channels)
	for {
		idx := int(r.position)
		if idx+1 >= total {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := frame(idx, ch)
			s2 := frame(idx+1, ch)
			out = append(out, s1*(1.0-frac)+s2*frac)
		}
		r.position += r.ratio
	}

	// Rebase so the final input frame becomes lastSample.
	r.position -= float64(total - 1)
	for ch := 0; ch < r.channels; ch++ {
		r.lastSample[ch] = frame(total-1, ch)
	}
	r.primed = true

	return out, nil
}

// Flush emits the output that falls after the final input frame, holding it.
func (r *Resampler) Flush() ([]float64, error) {
	if !r.primed {
		return nil, nil
	}
	var out []float64
	for r.position < 1.0-1e-9 {
		out = append(out, r.lastSample...)
		r.position += r.ratio
	}
	r.Reset()
	return out, nil
}

// Resample converts input samples to output sample rate using linear interpolation
// input: interleaved samples at inputRate
// output: interleaved samples at outputRate
// Samples that do not fit in output are returned by the next call.
func (r *Resampler) Resample(input []int32, output []int32) int {
	in := make([]float64, len(input))
	for i, s := range input {
		in[i] = float64(s)
	}
	res, _ := r.Process(in)
	for _, s := range res {
		r.pending = append(r.pending, int32(s))
	}

	n := copy(output, r.pending)
	n -= n % r.channels
	r.pending = r.pending[:copy(r.pending, r.pending[n:])]
	return n
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	r.primed = false
	r.pending = r.pending[:0]
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
