package sqlinline

const QCreateUsageEvents = `--sql 5b8e0d0c-3f1e-4f7a-9d62-0c4f2b7a91d3
create table if not exists usage_events (
  id          uuid primary key default gen_random_uuid(),
  request_id  text not null default '',
  session_id  text not null default '',
  provider    text not null,
  model       text not null default '',
  operation   text not null,
  success     boolean not null,
  latency_ms  int not null,
  images      int not null default 0,
  created_at  timestamptz not null default now(),
  properties  jsonb not null default '{}'::jsonb
);
create index if not exists usage_events_created_at_idx on usage_events (created_at desc);
`

const QInsertUsageEvent = `--sql e40f651c-a8b3-44c7-a911-bb8a0ed5f6ef
insert into usage_events(request_id, session_id, provider, model, operation, success, latency_ms, images, properties)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::boolean, $7::int, $8::int, coalesce($9::jsonb, '{}'::jsonb));
`

const QUsageSummary = `--sql 9c41a7de-2b6f-4e0a-8f35-6d1e2a0b7c48
select provider,
       operation,
       count(*)::int                                   as total,
       count(*) filter (where success)::int            as succeeded,
       coalesce(avg(latency_ms), 0)::float8            as avg_latency_ms,
       coalesce(sum(images), 0)::int                   as images
from usage_events
where created_at >= now() - make_interval(hours => $1::int)
group by provider, operation
order by provider, operation;
`
