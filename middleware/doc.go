// Package middleware adapts a cauth.Engine to net/http.
//
// [Routes] implements cauth.RoutingContract and cauth.OtpRoutingContract
// for http.Handler, so a Router can hand out ready-to-mount handlers:
//
//	router, _ := cauth.NewRouter[http.Handler](engine, middleware.NewRoutes())
//	mux.Handle("POST /auth/login", router.Login())
//	mux.Handle("GET /me", middleware.Protect(router.Guard("admin"), meHandler))
//
// Every rejection is a JSON body of the form {"code": ..., "message": ...}
// carrying the stable cauth error codes.
//
// A guard handler served on its own answers with the caller's identity,
// which makes it usable as a forward-auth endpoint for a reverse proxy.
package middleware
