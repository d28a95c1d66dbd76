// Package bootstrap runs a rowstream binary: it validates the typed config,
// initializes logging, starts the registered components, and shuts them
// down on a signal or when a finite task returns.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(db)
//	app.RegisterComponent(srv)
//	return app.Run(ctx)
package bootstrap
