package bootstrap

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/invoker"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/store"
)

// StoreErrorHandler persists the failed message for a later operator replay.
func StoreErrorHandler(repo store.FailedMessageRepository, logger zerolog.Logger) invoker.ErrorHandler {
	return func(ctx context.Context, err error, mctx *messaging.MessagingContext) {
		fm, buildErr := store.NewFailedMessage(mctx, err)
		if buildErr != nil {
			logger.Error().Err(buildErr).Str("type", mctx.Type.String()).Str("topic", mctx.Topic).Msg("failed to capture failed message")
			return
		}
		if saveErr := repo.Save(context.WithoutCancel(ctx), fm); saveErr != nil {
			logger.Error().Err(saveErr).Str("id", fm.ID).Msg("failed to store failed message")
			return
		}
		logger.Debug().Str("id", fm.ID).Str("destination", fm.Destination).Msg("failed message stored")
	}
}

func defaultErrorHandler(repo store.FailedMessageRepository, logger zerolog.Logger) invoker.ErrorHandler {
	if repo == nil {
		return invoker.LoggingErrorHandler(logger)
	}
	return invoker.Chain(invoker.LoggingErrorHandler(logger), StoreErrorHandler(repo, logger))
}
