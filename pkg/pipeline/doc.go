// Package pipeline provides an embeddable dual-architecture build
// validation service.
//
// # Overview
//
// cross-ci validates that a container-image recipe builds on the host
// architecture and on a foreign architecture reached through QEMU
// emulation. Qualifying version-control events (push or pull_request
// against the designated branch) fork two independent build paths: a
// native docker build tagged per run, and a buildx cross build behind
// an idempotently bootstrapped emulation layer. The run fails iff any
// path fails.
//
// # Basic Usage
//
// Create a pipeline programmatically:
//
//	cfg := &pipeline.Config{
//		Server: pipeline.ServerConfig{
//			Port:         8080,
//			ReadTimeout:  30 * time.Second,
//			WriteTimeout: 30 * time.Second,
//		},
//		Auth: pipeline.AuthConfig{
//			APIKeys: []pipeline.APIKey{
//				{Name: "my-app", Key: "secret-key-here"},
//			},
//		},
//		Build: pipeline.BuildConfig{
//			Branch:       "main",
//			ForeignArch:  "arm64",
//			NativeRecipe: "docker/Dockerfile.native",
//			NativeImage:  "crossci/native",
//			CrossRecipe:  "docker/Dockerfile.cross",
//		},
//		Logging: pipeline.LoggingConfig{
//			Level:  "info",
//			Format: "json",
//		},
//	}
//
//	pl, err := pipeline.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := pl.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Using with Existing HTTP Server
//
//	pl, err := pipeline.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	http.Handle("/ci/", http.StripPrefix("/ci", pl.Handler()))
//	http.ListenAndServe(":8080", nil)
//
// # Direct Service Access
//
//	svc := pl.Service()
//
//	run, started := svc.Submit(ctx, models.TriggerEvent{
//		Kind:   models.EventPush,
//		Branch: "main",
//		Commit: "8f3c2d1",
//	})
//	if started {
//		fmt.Printf("started run: %s\n", run.RunID)
//	}
package pipeline
