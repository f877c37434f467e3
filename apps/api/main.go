package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/cinderella/apps/api/echo"
	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/chat"
	"github.com/trezcool/cinderella/core/user"
	emailsvc "github.com/trezcool/cinderella/services/email"
	logsvc "github.com/trezcool/cinderella/services/logger"
	"github.com/trezcool/cinderella/storage/database"
	inmemdb "github.com/trezcool/cinderella/storage/database/inmem"
	sqlxrepos "github.com/trezcool/cinderella/storage/database/sqlx"
)

type repositories struct {
	users       user.Repository
	assignments assignment.Repository
	messages    chat.Repository
}

// TODO:
// - rate limit the login & password reset endpoints
// - serve uploaded documents (paths only for now)
func main() {
	inmem := flag.Bool("inmem", false, "keep everything in memory (no database); for local development only")
	flag.Parse()

	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	if err := conf.Chat.Validate(); err != nil {
		log.Fatalf("invalid chat config: %v", err)
	}

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB & repos
	var repos repositories
	if *inmem {
		logger.Warn("Running with in-memory storage: all data is lost on exit")
		db := inmemdb.Open()
		repos = repositories{
			users:       inmemdb.NewUserRepository(db),
			assignments: inmemdb.NewAssignmentRepository(db),
			messages:    inmemdb.NewMessageRepository(db),
		}
	} else {
		db, err := setUpDB(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		repos = repositories{
			users:       sqlxrepos.NewUserRepository(db),
			assignments: sqlxrepos.NewAssignmentRepository(db),
			messages:    sqlxrepos.NewMessageRepository(db),
		}
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(repos.users, mailSvc, conf)
	asgmtSvc := assignment.NewService(repos.assignments)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger, false /* strict */)

	user.LoadCommonPasswords(logger)

	hub := chat.NewHub(chat.HubDeps{
		Config:     conf.Chat,
		Registry:   chat.NewRegistry(),
		Repo:       repos.messages,
		Directory:  usrSvc,
		Validate:   validate,
		Translator: translator,
		Logger:     logger,
	})

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("chat_online", expvar.Func(func() interface{} {
		return hub.Registry().Len()
	}))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			UserSvc:       usrSvc,
			AssignmentSvc: asgmtSvc,
			ChatHub:       hub,
			ChatRepo:      repos.messages,
			Validate:      validate,
			Translator:    translator,
		},
	)
	server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// closing chat connections, asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
