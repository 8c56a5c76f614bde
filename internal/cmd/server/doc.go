// Package serverrun exposes the Run entrypoint used by the CLI to start the
// evlog runtime with its gRPC and HTTP servers.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{GRPCAddr: ":50051", HTTPAddr: ":8080", Config: cfg})
package serverrun
