package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"proxywarden/internal/api/dto"
	"proxywarden/internal/auth"
	"proxywarden/internal/pool"
)

var errUnauthorized = errors.New("unauthorized: a bearer token is required")

var proxyType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Proxy",
	Fields: graphql.Fields{
		"url":          &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"ip":           &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"port":         &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"protocol":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"country":      &graphql.Field{Type: graphql.String},
		"anonymity":    &graphql.Field{Type: graphql.String},
		"source":       &graphql.Field{Type: graphql.String},
		"status":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"responseTime": &graphql.Field{Type: graphql.Float, Description: "Seconds across all probe targets."},
		"collectedAt":  &graphql.Field{Type: graphql.DateTime},
		"lastCheck":    &graphql.Field{Type: graphql.DateTime},
	},
})

var statisticsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Statistics",
	Fields: graphql.Fields{
		"total":            &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"working":          &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"failed":           &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"unchecked":        &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"outdated":         &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"avgResponseTime":  &graphql.Field{Type: graphql.Float},
		"oldestCollection": &graphql.Field{Type: graphql.DateTime},
		"latestCheck":      &graphql.Field{Type: graphql.DateTime},
	},
})

var harvestSourceType = graphql.NewObject(graphql.ObjectConfig{
	Name: "HarvestSource",
	Fields: graphql.Fields{
		"name":           &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"lastHarvestAt":  &graphql.Field{Type: graphql.DateTime},
		"lastCount":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"lastError":      &graphql.Field{Type: graphql.String},
		"lastSuccessAt":  &graphql.Field{Type: graphql.DateTime},
		"totalHarvested": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
	},
})

var blockedRangeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "BlockedRange",
	Fields: graphql.Fields{
		"cidr":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"reason":    &graphql.Field{Type: graphql.String},
		"createdAt": &graphql.Field{Type: graphql.DateTime},
	},
})

var maxAgeArg = &graphql.ArgumentConfig{
	Type:        graphql.String,
	Description: `Go duration ("24h") or hours; defaults to the configured max age.`,
}

func (s *Server) buildSchema() (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"best": &graphql.Field{
				Type: proxyType,
				Args: graphql.FieldConfigArgument{"maxAge": maxAgeArg},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					maxAge, err := parseMaxAge(stringArg(p, "maxAge"), s.deps.MaxAge)
					if err != nil {
						return nil, err
					}
					proxy, err := s.deps.Pool.GetOne(p.Context, maxAge)
					if errors.Is(err, pool.ErrNoWorkingProxy) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return dto.NewProxyInfo(proxy), nil
				},
			},
			"random": &graphql.Field{
				Type: proxyType,
				Args: graphql.FieldConfigArgument{"maxAge": maxAgeArg},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					maxAge, err := parseMaxAge(stringArg(p, "maxAge"), s.deps.MaxAge)
					if err != nil {
						return nil, err
					}
					proxy, err := s.deps.Pool.GetRandom(p.Context, maxAge)
					if errors.Is(err, pool.ErrNoWorkingProxy) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return dto.NewProxyInfo(proxy), nil
				},
			},
			"proxies": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(proxyType))),
				Args: graphql.FieldConfigArgument{
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: defaultLimit},
					"maxAge": maxAgeArg,
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					limit, _ := p.Args["limit"].(int)
					if limit > maxLimit {
						return nil, fmt.Errorf("%w: limit above %d", errBadQuery, maxLimit)
					}
					maxAge, err := parseMaxAge(stringArg(p, "maxAge"), s.deps.MaxAge)
					if err != nil {
						return nil, err
					}
					proxies, err := s.deps.Pool.GetN(p.Context, limit, maxAge)
					if err != nil {
						return nil, err
					}
					return dto.NewProxyList(proxies).Proxies, nil
				},
			},
			"statistics": &graphql.Field{
				Type: graphql.NewNonNull(statisticsType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return s.deps.Pool.GetStatistics(p.Context)
				},
			},
			"sources": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(harvestSourceType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					infos := []dto.HarvestSourceInfo{}
					if s.deps.Sources == nil {
						return infos, nil
					}
					sources, err := s.deps.Sources.ListHarvestSources(p.Context)
					if err != nil {
						return nil, err
					}
					for _, source := range sources {
						infos = append(infos, dto.NewHarvestSourceInfo(source))
					}
					return infos, nil
				},
			},
			"blockedRanges": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(blockedRangeType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					infos := []dto.BlockedRangeInfo{}
					if s.deps.Blacklist == nil {
						return infos, nil
					}
					ranges, err := s.deps.Blacklist.Ranges(p.Context)
					if err != nil {
						return nil, err
					}
					for _, blocked := range ranges {
						infos = append(infos, dto.NewBlockedRangeInfo(blocked))
					}
					return infos, nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"markFailed": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Boolean),
				Description: "Demote a proxy until the next probe finds it working.",
				Args: graphql.FieldConfigArgument{
					"proxy": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if _, ok := auth.SubjectFromContext(p.Context); !ok {
						return nil, errUnauthorized
					}
					if err := s.deps.Pool.MarkFailedURL(p.Context, stringArg(p, "proxy")); err != nil {
						return nil, err
					}
					return true, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

func (s *Server) graphqlHandler() (http.Handler, error) {
	schema, err := s.buildSchema()
	if err != nil {
		return nil, fmt.Errorf("server: build graphql schema: %w", err)
	}
	return handler.New(&handler.Config{Schema: &schema, Pretty: true}), nil
}

func stringArg(p graphql.ResolveParams, name string) string {
	value, _ := p.Args[name].(string)
	return value
}
