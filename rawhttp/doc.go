// Package rawhttp is a from-scratch HTTP/1.1 wire core: explicit
// message framing over raw TCP for both serving and fetching, with
// nothing borrowed from net/http at runtime.
//
// Highlights
//   - Framing: strict request/status line and header parsing with
//     per-line and whole-block size limits, Content-Length vs chunked
//     Transfer-Encoding resolution (chunked wins), trailers, and
//     drain-on-close bodies so keep-alive connections stay usable.
//   - Server: streaming ResponseWriter with automatic chunked framing,
//     keep-alive, lazy Expect: 100-continue, panic containment,
//     graceful shutdown, connection hijacking for protocol upgrades,
//     and logging/metrics hooks.
//   - Router: literal, :param and *catchall segments with
//     specificity-ordered matching and distinct 404/405 answers.
//   - Payload: request bodies materialize at most once and are shared
//     by every consumer afterwards.
//   - Client: redirect-following Client over a pooled HTTP/1.1
//     transport with proxy (HTTP and CONNECT), TLS (SNI/ALPN) and
//     context deadlines.
//
// Quick start (server):
//
//	r := rawhttp.NewRouter()
//	r.GET("/users/:id", func(w rawhttp.ResponseWriter, req *rawhttp.Request) {
//	    rawhttp.JSON(w, 200, map[string]string{"id": req.PathValue("id")})
//	})
//	s := &rawhttp.Server{Addr: ":8080", Handler: r}
//	if err := s.ListenAndServe(); err != nil { log.Fatal(err) }
//
// Quick start (client):
//
//	c := &rawhttp.Client{}
//	res, err := c.Get("http://127.0.0.1:8080/users/42")
//	if err != nil { log.Fatal(err) }
//	defer res.Body.Close()
//	b, _ := io.ReadAll(res.Body)
//	fmt.Println(res.StatusCode, string(b))
package rawhttp
