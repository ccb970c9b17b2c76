package autoload

import "github.com/rs/zerolog"

func quietLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}
