// Package terrapin is the engine behind a turtle-graphics coding
// playground: it hosts an external WASM script interpreter, draws
// Logo-style turtle graphics, replays recorded drawing commands, and
// tracks lesson progress.
//
// # Overview
//
// Learner code runs inside an isolated wazero module with no default
// capabilities; the only bridge back out is the turtle command
// surface. Executions are single-flight with timeouts, user
// cancellation, and an optional worker mode whose hung computations
// can be killed for real.
//
// # Basic Usage
//
//	t := turtle.NewWithSurface(800, 600)
//	bind := turtle.Bind(t)
//
//	client := interp.NewClient(interp.DefaultProfile("tlang.wasm"),
//	    interp.WithCallHandler(bind.Call))
//	eng := engine.New(client)
//	defer eng.Close()
//
//	if err := client.Initialize(ctx, eng.Handlers()); err != nil {
//	    // no execution backend; degrade gracefully
//	}
//
//	res := eng.Execute(ctx, engine.Request{
//	    SourceText: `forward(100)`,
//	    Timeout:    30 * time.Second,
//	})
//	fmt.Println(res.Output)
//
// # Packages
//
// See the [turtle], [interp], [engine], [lesson], and [progress]
// packages for detailed API documentation.
package terrapin
