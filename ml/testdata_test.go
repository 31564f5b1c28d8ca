package ml

// diabetesSamples returns a small separable training set: glucose above 160
// is positive.
func diabetesSamples() ([][]float64, []int) {
	features := make([][]float64, 0, 40)
	labels := make([]int, 0, 40)
	for i := 0; i < 40; i++ {
		glucose := 80 + float64(i)*4
		features = append(features, []float64{
			float64(i % 5),
			glucose,
			60 + float64(i%7),
			20 + float64(i%3),
			80 + float64(i%11),
			22 + float64(i%9),
			0.3 + float64(i%4)*0.1,
			25 + float64(i%30),
		})
		label := 0
		if glucose > 160 {
			label = 1
		}
		labels = append(labels, label)
	}
	return features, labels
}

type fakeModel struct {
	predict func(features []float64) (int, error)
}

func (f *fakeModel) Predict(features []float64) (int, error) {
	return f.predict(features)
}

type fakeProbModel struct {
	fakeModel
	prob float64
	err  error
}

func (f *fakeProbModel) PredictProbability(features []float64) (float64, error) {
	return f.prob, f.err
}
