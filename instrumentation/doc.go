// Package instrumentation provides OpenTelemetry instrumentation for the
// provider core: counters and histograms for token issuance, redemption,
// introspection, revocation, and storage operations, plus tracers for the
// endpoint chains.
//
// When disabled (the default zero-value Config), no-op providers are used and
// the overhead is negligible. Exporter wiring is the embedding application's
// concern; pass a configured Resource and enable the instance:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-authorization-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
package instrumentation
