// Package flow is the neural network substrate the adversarial strategies
// are built on.
//
// Flow provides an explicit API with no hidden defaults. Every
// hyperparameter must be specified.
//
// Supervised usage:
//
//	net, err := flow.NewNetwork(flow.NetworkConfig{Seed: 42}).
//		AddLayer(flow.Dense(128).
//			WithActivation(flow.ReLU()).
//			WithInitializer(flow.HeNormal(1.0)).
//			WithBiasInitializer(flow.Zeros()).
//			WithBias(true).
//			Build()).
//		AddLayer(flow.Dense(10).
//			WithActivation(flow.Softmax()).
//			WithInitializer(flow.XavierNormal(1.0)).
//			WithBiasInitializer(flow.Zeros()).
//			WithBias(true).
//			Build()).
//		Build([]int{784})
//
//	err = net.Compile(flow.CompileConfig{
//		Optimizer:    flow.Adam(flow.AdamConfig{LR: 0.001, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}),
//		Loss:         flow.CrossEntropy(flow.CrossEntropyConfig{}),
//		Metrics:      []flow.Metric{flow.Accuracy()},
//		Regularizer:  flow.NoReg(),
//		GradientClip: flow.NoClip(),
//	})
//
//	result, err := net.Train(inputs, targets, flow.TrainConfig{
//		Epochs:    100,
//		BatchSize: 32,
//		Shuffle:   true,
//	}, []flow.Callback{flow.LogProgress(flow.LogProgressConfig{PrintEvery: 10})})
//
// Driving a network with an external objective:
//
//	net.ZeroGrad()
//	out, _ := net.Forward(x, true)
//	gradIn, _ := net.Backward(loss.Gradient(out, target))
//	err = net.Step()
//
// Backward accumulates parameter gradients until ZeroGrad, and returns the
// gradient with respect to the input so a second network can be trained
// through the first. Freeze stops the accumulation.
package flow

// Version of the Flow library
const Version = "2.0.0"
