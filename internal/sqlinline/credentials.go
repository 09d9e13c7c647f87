package sqlinline

const QCredentialsEnsureSchema = `--sql 5e0c7a4b-2f1d-4c9e-9b63-0d8f4a7e21c6
create table if not exists engine_credentials (
    engine text primary key,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

const QSelectEngineToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from engine_credentials
where engine = $1::text
limit 1;
`

const QUpsertEngineToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into engine_credentials (engine, token, properties, created_at, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (engine) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
