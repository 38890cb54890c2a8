// Package qanoon is the public entry point for the legal retrieval and
// answer service.
//
// A Service is opened once at startup and passed to whatever serves
// requests:
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    return err
//	}
//	svc, err := qanoon.Open(ctx, cfg, qanoon.WithKeepAlive(true))
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	for fragment := range svc.Consult(ctx, "punishment for theft", nil) {
//	    fmt.Print(fragment)
//	}
//
// Retrieve never fails: an unavailable provider or a missing index yields
// no passages. Answer and Consult always close their channel and end with
// either the model's answer or exactly one fixed fallback message.
package qanoon
