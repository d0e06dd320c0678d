package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func recoverMiddleware(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).
						Str("path", c.Path()).Msg("handler panicked")
					err = dataResponse(c, http.StatusInternalServerError, nil)
				}
			}()
			return next(c)
		}
	}
}

func requestLogging(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req, res := c.Request(), c.Response()
			ev := log.Debug()
			if res.Status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("method", req.Method).Str("uri", req.RequestURI).
				Int("status", res.Status).Dur("latency", time.Since(start)).Msg("request")
			return nil
		}
	}
}
