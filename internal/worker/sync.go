package worker

import (
	"context"
	"log"
	"time"

	"gridrun/internal/config"
	"gridrun/internal/service/conquest"
	"gridrun/internal/service/territory"
)

// StartSyncWorker starts the worker that turns pending activities into cell
// claims and conquest notifications.
func StartSyncWorker() {
	territoryService := territory.GetTerritoryService()
	queryService := territory.GetQueryService()
	conquestService := conquest.GetConquestService()

	ticker := time.NewTicker(config.SyncWorkerInterval)
	go func() {
		for range ticker.C {
			ctx := context.Background()

			results := territoryService.ProcessPending(ctx, 100)
			if len(results) == 0 {
				continue
			}

			for _, result := range results {
				log.Printf("sync: activity %s by %s: loop=%v gained=%d refreshed=%d skipped=%d",
					result.ActivityID, result.UserID, result.LoopClosed,
					len(result.GainedCells), len(result.RefreshedCells), len(result.SkippedCells))

				if len(result.Transfers) > 0 {
					conquestService.NotifyConquests(ctx, result.UserID, result.Transfers)
				}
			}

			if err := queryService.RefreshLoopIndex(ctx); err != nil {
				log.Printf("sync: loop index refresh failed: %v", err)
			}
		}
	}()

	log.Println("Sync worker started with interval:", config.SyncWorkerInterval)
}
