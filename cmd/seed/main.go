package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/teleconsult-booking/internal/appointment"
	"github.com/hackgods/teleconsult-booking/internal/authz"
	"github.com/hackgods/teleconsult-booking/internal/config"
	"github.com/hackgods/teleconsult-booking/internal/db"
	"github.com/hackgods/teleconsult-booking/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Gynecology",
}

// Morning and afternoon blocks programmed for every specialty and day.
var blocks = []struct {
	start, end appointment.TimeOfDay
	duration   int
}{
	{appointment.NewTimeOfDay(8, 0), appointment.NewTimeOfDay(12, 0), 20},
	{appointment.NewTimeOfDay(14, 0), appointment.NewTimeOfDay(17, 0), 15},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("prod", "seed")
		boot.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, "seed")
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	specialtyIDs, err := seedSpecialties(ctx, pool, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed specialties")
	}
	if err := seedPatients(ctx, pool, log, envInt("SEED_PATIENTS", 2000)); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	svc := appointment.NewService(appointment.NewPgStore(pool),
		appointment.WithLocation(cfg.Location()),
		appointment.WithLogger(log),
	)
	if err := seedSlots(ctx, svc, log, specialtyIDs, cfg.Location(), envInt("SEED_DAYS", 14)); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	log.Info().Msg("seed complete")
}

func seedSpecialties(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(specialties))
	for _, name := range specialties {
		var id uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO specialties (id, name, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, uuid.New(), name, name+" teleconsultation").Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	log.Info().Int("count", len(ids)).Msg("specialties seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, full_name, email, phone)
				VALUES ($1, $2, $3, $4)
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), "9"+gofakeit.DigitN(8))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

// seedSlots programs blocks through the booking core so capacity is derived
// the same way as in production. Re-running skips blocks that already exist.
func seedSlots(ctx context.Context, svc *appointment.Service, log zerolog.Logger, specialtyIDs []uuid.UUID, loc *time.Location, days int) error {
	admin := authz.Actor{ID: uuid.New(), Role: authz.RoleAdmin}
	tomorrow := appointment.CivilDate(time.Now().In(loc)).AddDate(0, 0, 1)

	created, skipped := 0, 0
	for d := 0; d < days; d++ {
		date := tomorrow.AddDate(0, 0, d)
		if date.Weekday() == time.Sunday {
			continue
		}
		for _, specialtyID := range specialtyIDs {
			for _, b := range blocks {
				_, err := svc.CreateSlotBlock(ctx, admin, appointment.CreateSlotBlockInput{
					SpecialtyID:     specialtyID,
					Date:            date,
					Start:           b.start,
					End:             b.end,
					DurationMinutes: b.duration,
				})
				switch {
				case err == nil:
					created++
				case errors.Is(err, appointment.ErrSlotOverlap):
					skipped++
				default:
					return err
				}
			}
		}
	}
	log.Info().Int("created", created).Int("skipped", skipped).Msg("slots seeded")
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
